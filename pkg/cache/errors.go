package cache

import "errors"

// errMissingUser signals a member payload without the embedded user object;
// the dispatch cannot be attributed to an identity and is skipped upstream.
var errMissingUser = errors.New("member payload missing user object")
