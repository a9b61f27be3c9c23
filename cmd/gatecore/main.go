// Command gatecore runs a minimal bot on the library: it connects the shard
// fleet, logs lifecycle and message events, and shuts down cleanly on
// SIGINT/SIGTERM. It doubles as a smoke test for a deployment.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/small-frappuccino/gatecore/pkg/client"
	"github.com/small-frappuccino/gatecore/pkg/discord"
	"github.com/small-frappuccino/gatecore/pkg/event"
	"github.com/small-frappuccino/gatecore/pkg/log"
	"github.com/small-frappuccino/gatecore/pkg/task"
	"github.com/small-frappuccino/gatecore/pkg/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	util.LoadEnv()
	if _, err := util.RequireEnv("DISCORD_BOT_TOKEN"); err != nil {
		return err
	}

	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}
	if err := log.Setup(log.Config{Level: cfg.LogLevel, Dir: cfg.LogDir}); err != nil {
		return err
	}
	defer log.Close()

	c, err := client.New(cfg)
	if err != nil {
		return err
	}

	event.OnTyped(c.Bus(), discord.EventReady, func(ctx context.Context, ev discord.ReadyEvent) error {
		log.ApplicationLogger().Info("shard ready",
			"shard", ev.ShardID, "guilds", len(ev.Guilds), "user", ev.User.Username)
		return nil
	})
	// Message handling is handed to a per-channel worker so slow handlers
	// never stall event delivery.
	pool := task.NewPool(task.Config{})
	defer pool.Close()
	event.OnTyped(c.Bus(), discord.EventMessageCreate, func(ctx context.Context, ev discord.MessageCreateEvent) error {
		msg := ev.Message
		if msg.Author == nil {
			return nil
		}
		return pool.Submit("channel:"+msg.ChannelID.String(), func(ctx context.Context) error {
			log.ApplicationLogger().Debug("message",
				"channel", msg.ChannelID, "author", msg.Author.Username)
			return nil
		})
	})
	event.OnTyped(c.Bus(), discord.EventShardDisconnect, func(ctx context.Context, ev discord.ShardDisconnectEvent) error {
		log.ApplicationLogger().Warn("shard disconnected",
			"shard", ev.ShardID, "code", ev.Code, "reconnecting", ev.Reconnecting)
		return nil
	})

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		return err
	}

	util.WaitForInterrupt()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Shutdown(shutdownCtx)
}
