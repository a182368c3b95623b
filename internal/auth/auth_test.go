package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService("test-secret", time.Hour)
	require.NoError(t, err)
	return service
}

func testUser() *models.User {
	return &models.User{
		ID:    primitive.NewObjectID(),
		Email: "Dispatch@Example.com",
		Role:  models.RoleAdmin,
	}
}

func TestNewService_Defaults(t *testing.T) {
	service, err := NewService("", 0)
	assert.NoError(t, err)
	assert.NotNil(t, service)
	assert.Equal(t, []byte(defaultSecret), service.jwtSecret)
	assert.Equal(t, 24*time.Hour, service.tokenExp)
}

func TestService_HashPassword(t *testing.T) {
	service := newTestService(t)

	password := "testpassword123"
	hash, err := service.HashPassword(password)

	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, password, hash)
	assert.True(t, service.CheckPassword(password, hash))
	assert.False(t, service.CheckPassword("wrongpassword", hash))
}

func TestService_ValidateToken(t *testing.T) {
	service := newTestService(t)
	user := testUser()

	token, err := service.GenerateToken(user)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	require.NotNil(t, claims)
	assert.Equal(t, user.ID.Hex(), claims.UserID)
	assert.Equal(t, "dispatch@example.com", claims.Email)
	assert.Equal(t, user.Role, claims.Role)

	_, err = service.ValidateToken("invalid-token")
	assert.Equal(t, ErrInvalidToken, err)

	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)
}

func TestService_ValidateToken_WrongSecret(t *testing.T) {
	issuer, err := NewService("other-secret", time.Hour)
	require.NoError(t, err)
	token, err := issuer.GenerateToken(testUser())
	require.NoError(t, err)

	_, err = newTestService(t).ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ValidateToken_Expired(t *testing.T) {
	service := newTestService(t)
	claims := jwt.MapClaims{
		"user_id": "abc",
		"email":   "a@example.com",
		"role":    "admin",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
}

func TestService_ValidateToken_MissingEmail(t *testing.T) {
	service := newTestService(t)
	claims := jwt.MapClaims{
		"user_id": "abc",
		"role":    "admin",
		"exp":     time.Now().Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service := newTestService(t)

	extracted, err := service.ExtractTokenFromHeader("Bearer valid-token")
	assert.NoError(t, err)
	assert.Equal(t, "valid-token", extracted)

	for _, header := range []string{"", "InvalidFormat", "Bearer ", "Basic abc"} {
		_, err = service.ExtractTokenFromHeader(header)
		assert.Equal(t, ErrInvalidToken, err, header)
	}
}

func TestService_ValidatePassword(t *testing.T) {
	service := newTestService(t)

	assert.NoError(t, service.ValidatePassword("validpassword123"))

	err := service.ValidatePassword("short")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8 characters")
}

func TestService_ValidateEmail(t *testing.T) {
	service := newTestService(t)

	assert.NoError(t, service.ValidateEmail("test@example.com"))
	for _, email := range []string{"testexample.com", "test@", "test", "@example.com"} {
		err := service.ValidateEmail(email)
		assert.Error(t, err, email)
	}
}

func TestService_ValidateSignupEmail(t *testing.T) {
	service := newTestService(t)

	assert.NoError(t, service.ValidateSignupEmail("ops@quantumeventstechnology.com", "quantumeventstechnology.com"))
	assert.NoError(t, service.ValidateSignupEmail("OPS@QuantumEventsTechnology.com", "@quantumeventstechnology.com"))
	assert.NoError(t, service.ValidateSignupEmail("ops@gmail.com", ""))

	err := service.ValidateSignupEmail("ops@gmail.com", "quantumeventstechnology.com")
	assert.ErrorIs(t, err, ErrDomainNotAllowed)

	err = service.ValidateSignupEmail("not-an-email", "quantumeventstechnology.com")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDomainNotAllowed)
}

func TestService_ValidateDisplayName(t *testing.T) {
	service := newTestService(t)

	assert.NoError(t, service.ValidateDisplayName("Night Desk"))

	err := service.ValidateDisplayName(" a ")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 characters")

	err = service.ValidateDisplayName(strings.Repeat("a", 81))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "less than 80 characters")
}

func TestService_GenerateRefreshToken(t *testing.T) {
	service := newTestService(t)

	token, err := service.GenerateRefreshToken()
	assert.NoError(t, err)
	assert.Len(t, token, 44)
}

func TestService_TokenExpiration(t *testing.T) {
	service := newTestService(t)

	token, _ := service.GenerateToken(testUser())

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)

	now := time.Now().Unix()
	assert.Greater(t, claims.Exp, now)
	assert.LessOrEqual(t, claims.Exp, now+int64(service.tokenExp.Seconds())+1)
}
