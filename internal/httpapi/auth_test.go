package httpapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// TestJWTAuth tests basic JWT authentication functionality
func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	if err != nil {
		t.Errorf("Expected no error generating token, got %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}
	if expiresAt.IsZero() {
		t.Error("Expected valid expiration time")
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Errorf("Expected no error validating token, got %v", err)
	}
	if claims == nil {
		t.Fatal("Expected claims to be returned")
	}
	if claims.ClientID != "test-client" {
		t.Errorf("Expected ClientID 'test-client', got '%s'", claims.ClientID)
	}
	if claims.IsAdmin {
		t.Error("Expected IsAdmin to be false")
	}

	_, err = auth.ValidateToken("invalid-token")
	if err == nil {
		t.Error("Expected error for invalid token")
	}
}

func TestJWTAuth_Claims(t *testing.T) {
	auth := NewJWTAuth("claims-secret")

	t.Run("admin_token", func(t *testing.T) {
		token, _, err := auth.GenerateToken("ops", true)
		require.NoError(t, err)

		claims, err := auth.ValidateToken(token)
		require.NoError(t, err)
		assert.True(t, claims.IsAdmin)
		assert.Equal(t, "ops", claims.Subject)
		assert.Equal(t, tokenIssuer, claims.Issuer)
	})

	t.Run("unique_token_ids", func(t *testing.T) {
		a, _, err := auth.GenerateToken("same-client", false)
		require.NoError(t, err)
		b, _, err := auth.GenerateToken("same-client", false)
		require.NoError(t, err)

		ca, err := auth.ValidateToken(a)
		require.NoError(t, err)
		cb, err := auth.ValidateToken(b)
		require.NoError(t, err)
		assert.NotEmpty(t, ca.ID)
		assert.NotEqual(t, ca.ID, cb.ID)
	})

	t.Run("token_expiration_fields", func(t *testing.T) {
		_, expiresAt, err := auth.GenerateToken("expiry-test", false)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, time.Minute)
	})

	t.Run("bearer_token_handling", func(t *testing.T) {
		token, _, err := auth.GenerateToken("bearer-test", false)
		require.NoError(t, err)

		claims, err := auth.ValidateToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "bearer-test", claims.ClientID)
	})

	t.Run("empty_client_rejected", func(t *testing.T) {
		_, _, err := auth.GenerateToken("", false)
		assert.Error(t, err)
		_, err = auth.ValidateToken("")
		assert.Error(t, err)
	})
}

func TestJWTAuth_RejectsForeignTokens(t *testing.T) {
	auth := NewJWTAuth("right-secret")

	other, _, err := NewJWTAuth("wrong-secret").GenerateToken("intruder", true)
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.Error(t, err, "token signed with another key")

	expired := NewJWTAuth("right-secret")
	expired.lifetime = -time.Minute
	stale, _, err := expired.GenerateToken("late", false)
	require.NoError(t, err)
	_, err = auth.ValidateToken(stale)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{ClientID: "anon"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ValidateToken(unsigned)
	assert.Error(t, err, "unsigned token")
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("other")))

	_, err = HashPassword("")
	assert.Error(t, err)
}
