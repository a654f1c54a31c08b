package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func computeHMAC(challenge, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

func TestAuthHandlerWithoutSecretTrustsSubscribers(t *testing.T) {
	auth := NewAuthHandler("")
	assert.False(t, auth.Enabled())

	_, _, url := startGateway(t, Config{})
	conn := dial(t, url)

	// no challenge: the first frame back answers the init
	send(t, conn, "init", InitRequest{SessionID: "s1", Type: "baileys"})
	assert.Equal(t, "init_response", read(t, conn).Event)
}

func TestAuthHandlerChallenges(t *testing.T) {
	auth := NewAuthHandler("hunter2")
	require.True(t, auth.Enabled())

	first, err := auth.GenerateChallenge()
	require.NoError(t, err)
	second, err := auth.GenerateChallenge()
	require.NoError(t, err)

	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)
	assert.Equal(t, computeHMAC(first, "hunter2"), auth.Sign(first))
}

func TestAuthHandlerResponses(t *testing.T) {
	auth := NewAuthHandler("hunter2")

	tests := []struct {
		name      string
		challenge string
		attempts  int
		signature string
		success   bool
		message   string
		attemptsN int
	}{
		{"signed with the shared secret", "c1", 0, computeHMAC("c1", "hunter2"), true, "", 0},
		{"signed with another secret", "c1", 0, computeHMAC("c1", "other"), false, "Invalid signature", 1},
		{"signature for another challenge", "c1", 1, computeHMAC("c2", "hunter2"), false, "Invalid signature", 2},
		{"third bad signature locks out", "c1", 2, "garbage", false, "Too many failed attempts", 3},
		{"no challenge issued", "", 0, computeHMAC("", "hunter2"), false, "No challenge found", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &Client{ID: "sub-1", Challenge: tt.challenge, AuthAttempts: tt.attempts, State: StateAuthenticating}

			result := auth.HandleAuthResponse(client, tt.signature)

			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, tt.message, result.Message)
			assert.Equal(t, tt.attemptsN, client.AuthAttempts)
			assert.Equal(t, tt.success, client.Authenticated)
			if tt.success {
				assert.Equal(t, "auth.success", result.Event)
				assert.Equal(t, StateAuthenticated, client.State)
				assert.Empty(t, client.Challenge, "a challenge answers once")
			} else {
				assert.Equal(t, "auth.failure", result.Event)
			}
		})
	}
}

func TestLockedOutSubscriberNeverBindsSession(t *testing.T) {
	_, sessions, url := startGateway(t, Config{SharedSecret: "hunter2"})
	conn := dial(t, url)

	challenge := read(t, conn)
	require.Equal(t, "auth.challenge", challenge.Event)

	for i := 0; i < maxAuthAttempts; i++ {
		require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: computeHMAC(challenge.Challenge, "guess")}))
		assert.Equal(t, "auth.failure", read(t, conn).Event)
	}

	// the server hangs up after the last failure
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Empty(t, sessions.subscriberOf("s1"))

	select {
	case <-sessions.unbindCh:
	case <-time.After(2 * time.Second):
		t.Fatal("locked out subscriber was not released")
	}
}
