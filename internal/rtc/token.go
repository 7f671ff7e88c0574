// Package rtc mints room-join access tokens for the media server.
package rtc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL keeps avatar join tokens short-lived; the avatar provider
// uses the token once, at session start.
const DefaultTokenTTL = 10 * time.Minute

// GrantOptions shapes the video grant embedded in the token
type GrantOptions struct {
	Room       string
	Identity   string
	CanPublish bool
	// CanSubscribe stays false for the avatar participant: it only pushes
	// rendered media into the room and never consumes other tracks.
	CanSubscribe bool
	TTL          time.Duration
}

// MintToken creates a room access token using HMAC-SHA256. The token carries
// a 'video' grant with the room name and publish/subscribe rights, uses apiKey
// as the 'iss' claim, and is signed with apiSecret.
func MintToken(apiKey, apiSecret string, opts GrantOptions) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", fmt.Errorf("room api key/secret required")
	}
	if opts.Room == "" {
		return "", fmt.Errorf("room name required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()

	// random jti
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	jti := hex.EncodeToString(b)

	claims := jwt.MapClaims{
		"jti":  jti,
		"iss":  apiKey,
		"nbf":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"sub":  opts.Identity,
		"name": opts.Identity,
		"video": map[string]interface{}{
			"room":         opts.Room,
			"roomJoin":     true,
			"canPublish":   opts.CanPublish,
			"canSubscribe": opts.CanSubscribe,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// MintAvatarToken mints the publish-only token handed to the avatar provider
// when it joins a conversation room.
func MintAvatarToken(apiKey, apiSecret, room, identity string) (string, error) {
	return MintToken(apiKey, apiSecret, GrantOptions{
		Room:       room,
		Identity:   identity,
		CanPublish: true,
	})
}
