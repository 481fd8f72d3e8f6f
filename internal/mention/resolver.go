// internal/mention/resolver.go

package mention

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/launchpod/chatkit/internal/chat"
	"github.com/launchpod/chatkit/internal/metrics"
)

// ErrUserNotFound covers both a missing user and a failed lookup; the
// caller surfaces a transient notification either way and there is no
// retry or negative caching.
var ErrUserNotFound = errors.New("user not found")

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_.-]*)`)

// UserDirectory is the user-lookup collaborator. Satisfied by
// *api.Client.
type UserDirectory interface {
	GetUserByUsername(ctx context.Context, username string) (*chat.UserInfo, error)
}

// Resolver translates @username tokens into user profiles, lazily and
// per click. Concurrent resolutions are independent and unordered.
type Resolver struct {
	dir UserDirectory
	log *logrus.Entry
}

func NewResolver(dir UserDirectory) *Resolver {
	return &Resolver{
		dir: dir,
		log: logrus.WithField("component", "mention"),
	}
}

// Resolve looks up the profile behind a mention token. The token may be
// passed with or without its leading '@'.
func (r *Resolver) Resolve(ctx context.Context, token string) (*chat.UserInfo, error) {
	username := strings.TrimPrefix(strings.TrimSpace(token), "@")
	if username == "" {
		return nil, ErrUserNotFound
	}

	user, err := r.dir.GetUserByUsername(ctx, username)
	if err != nil {
		metrics.MentionLookups.WithLabelValues("miss").Inc()
		r.log.WithError(err).WithField("username", username).Debug("mention lookup failed")
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	metrics.MentionLookups.WithLabelValues("hit").Inc()
	return user, nil
}

// Mentions returns the distinct usernames mentioned in content, in order
// of first appearance.
func Mentions(content string) []string {
	seen := make(map[string]bool)
	var usernames []string

	for _, match := range mentionPattern.FindAllStringSubmatch(content, -1) {
		username := match[1]
		if !seen[username] {
			seen[username] = true
			usernames = append(usernames, username)
		}
	}
	return usernames
}
