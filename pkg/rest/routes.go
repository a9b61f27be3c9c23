package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/small-frappuccino/gatecore/pkg/discord"
)

// Route keys substitute only major parameters (guild id, channel id); minor
// parameters such as message ids share the major route's bucket, matching how
// the server assigns bucket hashes.

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// GetGatewayBot returns the websocket URL and recommended shard count.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	var out GatewayBot
	err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Route:  "GET:/gateway/bot",
		Path:   "/gateway/bot",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMessageParams is the body of a message create call.
type CreateMessageParams struct {
	Content string `json:"content,omitempty"`
	TTS     bool   `json:"tts,omitempty"`
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID discord.Snowflake, params CreateMessageParams) (*discord.Message, error) {
	var out discord.Message
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Route:  fmt.Sprintf("POST:/channels/%s/messages", channelID),
		Path:   fmt.Sprintf("/channels/%s/messages", channelID),
		Body:   params,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EditMessageParams is the body of a message edit call.
type EditMessageParams struct {
	Content string `json:"content,omitempty"`
}

// EditMessage edits an existing message.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID discord.Snowflake, params EditMessageParams) (*discord.Message, error) {
	var out discord.Message
	err := c.Do(ctx, Request{
		Method: http.MethodPatch,
		Route:  fmt.Sprintf("PATCH:/channels/%s/messages", channelID),
		Path:   fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID),
		Body:   params,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage deletes a message. An audit log reason may be attached.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID discord.Snowflake, reason string) error {
	return c.Do(ctx, Request{
		Method: http.MethodDelete,
		Route:  fmt.Sprintf("DELETE:/channels/%s/messages", channelID),
		Path:   fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID),
		Reason: reason,
	}, nil)
}

// GetChannel fetches one channel.
func (c *Client) GetChannel(ctx context.Context, channelID discord.Snowflake) (*discord.Channel, error) {
	var out discord.Channel
	err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Route:  fmt.Sprintf("GET:/channels/%s", channelID),
		Path:   fmt.Sprintf("/channels/%s", channelID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MemberResponse is a member object with its embedded user, as the REST API
// returns it.
type MemberResponse struct {
	discord.Member
	User *discord.User `json:"user"`
}

// GetGuildMember fetches one guild member.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID discord.Snowflake) (*MemberResponse, error) {
	var out MemberResponse
	err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Route:  fmt.Sprintf("GET:/guilds/%s/members", guildID),
		Path:   fmt.Sprintf("/guilds/%s/members/%s", guildID, userID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListGuildMembers pages through a guild's members. limit caps the page size
// (max 1000); after resumes from a user id.
func (c *Client) ListGuildMembers(ctx context.Context, guildID discord.Snowflake, limit int, after discord.Snowflake) ([]MemberResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if !after.IsZero() {
		q.Set("after", after.String())
	}
	path := fmt.Sprintf("/guilds/%s/members", guildID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []MemberResponse
	err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Route:  fmt.Sprintf("GET:/guilds/%s/members", guildID),
		Path:   path,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ModifyGuildMemberParams carries the mutable member fields.
type ModifyGuildMemberParams struct {
	Nick  *string              `json:"nick,omitempty"`
	Roles *[]discord.Snowflake `json:"roles,omitempty"`
	Mute  *bool                `json:"mute,omitempty"`
	Deaf  *bool                `json:"deaf,omitempty"`
}

// ModifyGuildMember patches a guild member.
func (c *Client) ModifyGuildMember(ctx context.Context, guildID, userID discord.Snowflake, params ModifyGuildMemberParams, reason string) (*MemberResponse, error) {
	var out MemberResponse
	err := c.Do(ctx, Request{
		Method: http.MethodPatch,
		Route:  fmt.Sprintf("PATCH:/guilds/%s/members", guildID),
		Path:   fmt.Sprintf("/guilds/%s/members/%s", guildID, userID),
		Body:   params,
		Reason: reason,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, userID discord.Snowflake) (*discord.User, error) {
	var out discord.User
	err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Route:  "GET:/users/{user_id}",
		Path:   fmt.Sprintf("/users/%s", userID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDM opens (or returns an existing) DM channel with a user.
func (c *Client) CreateDM(ctx context.Context, recipientID discord.Snowflake) (*discord.Channel, error) {
	var out discord.Channel
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Route:  "POST:/users/@me/channels",
		Path:   "/users/@me/channels",
		Body:   map[string]string{"recipient_id": recipientID.String()},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerTypingIndicator starts the typing indicator in a channel.
func (c *Client) TriggerTypingIndicator(ctx context.Context, channelID discord.Snowflake) error {
	return c.Do(ctx, Request{
		Method: http.MethodPost,
		Route:  fmt.Sprintf("POST:/channels/%s/typing", channelID),
		Path:   fmt.Sprintf("/channels/%s/typing", channelID),
	}, nil)
}
