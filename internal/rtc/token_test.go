package rtc

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func parseToken(t *testing.T, signed, secret string) jwt.MapClaims {
	t.Helper()
	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("Token did not verify: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatal("Expected map claims")
	}
	return claims
}

func TestMintAvatarToken_GrantShape(t *testing.T) {
	signed, err := MintAvatarToken("key-1", "secret-1", "room-42", "avatar-bot")
	if err != nil {
		t.Fatalf("MintAvatarToken failed: %v", err)
	}

	claims := parseToken(t, signed, "secret-1")

	if claims["iss"] != "key-1" {
		t.Errorf("Expected iss key-1, got %v", claims["iss"])
	}
	if claims["name"] != "avatar-bot" || claims["sub"] != "avatar-bot" {
		t.Errorf("Expected identity in name/sub, got %v / %v", claims["name"], claims["sub"])
	}

	video, ok := claims["video"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected video grant, got %v", claims["video"])
	}
	if video["room"] != "room-42" {
		t.Errorf("Expected room room-42, got %v", video["room"])
	}
	if video["roomJoin"] != true {
		t.Errorf("Expected roomJoin true, got %v", video["roomJoin"])
	}
	if video["canPublish"] != true {
		t.Errorf("Expected canPublish true, got %v", video["canPublish"])
	}
	// The avatar participant only publishes
	if video["canSubscribe"] != false {
		t.Errorf("Expected canSubscribe false, got %v", video["canSubscribe"])
	}
}

func TestMintToken_DefaultTTL(t *testing.T) {
	signed, err := MintToken("key-1", "secret-1", GrantOptions{Room: "r", Identity: "i"})
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}

	claims := parseToken(t, signed, "secret-1")
	exp, ok := claims["exp"].(float64)
	if !ok {
		t.Fatalf("Expected numeric exp, got %v", claims["exp"])
	}
	ttl := time.Until(time.Unix(int64(exp), 0))
	if ttl < 9*time.Minute || ttl > 11*time.Minute {
		t.Errorf("Expected roughly 10 minute TTL, got %v", ttl)
	}
}

func TestMintToken_UniqueJTI(t *testing.T) {
	a, err := MintToken("key-1", "secret-1", GrantOptions{Room: "r"})
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}
	b, err := MintToken("key-1", "secret-1", GrantOptions{Room: "r"})
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}

	jtiA := parseToken(t, a, "secret-1")["jti"]
	jtiB := parseToken(t, b, "secret-1")["jti"]
	if jtiA == "" || jtiA == jtiB {
		t.Errorf("Expected distinct jti values, got %v and %v", jtiA, jtiB)
	}
}

func TestMintToken_Validation(t *testing.T) {
	if _, err := MintToken("", "secret", GrantOptions{Room: "r"}); err == nil {
		t.Error("Expected error for missing api key")
	}
	if _, err := MintToken("key", "", GrantOptions{Room: "r"}); err == nil {
		t.Error("Expected error for missing api secret")
	}
	if _, err := MintToken("key", "secret", GrantOptions{}); err == nil {
		t.Error("Expected error for missing room")
	}
}

func TestMintToken_WrongSecretRejected(t *testing.T) {
	signed, err := MintToken("key-1", "secret-1", GrantOptions{Room: "r"})
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}

	_, err = jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("other-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err == nil {
		t.Error("Expected verification failure with wrong secret")
	}
}
