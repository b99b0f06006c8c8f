package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpiry        = 24 * time.Hour
	bcryptCost       = 12
	minPasswordLen   = 8
	minUsernameLen   = 2
	maxUsernameLen   = 32
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
)

var (
	ErrBadCredentials = errors.New("invalid username or password")
	ErrRateLimited    = errors.New("too many login attempts, try again later")
	ErrInvalidToken   = errors.New("invalid token")
)

// Auth handles operator authentication
type Auth struct {
	db        *DB
	jwtSecret []byte
	cost      int

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates a new Auth handler
func NewAuth(db *DB) *Auth {
	return &Auth{
		db:        db,
		jwtSecret: loadOrCreateSecret(db),
		cost:      bcryptCost,
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Printf("warning: could not persist JWT secret: %v", err)
		}
	}
	return secret
}

// EnsureOperator creates the operator account, or resets its password when
// the account already exists
func (a *Auth) EnsureOperator(username, password string) error {
	username = strings.TrimSpace(username)
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	op, err := a.db.GetOperatorByUsername(username)
	if err != nil {
		return fmt.Errorf("look up operator: %w", err)
	}
	if op != nil {
		return a.db.UpdateOperatorPassword(op.ID, string(hash))
	}
	if _, err := a.db.CreateOperator(username, string(hash)); err != nil {
		return fmt.Errorf("create operator: %w", err)
	}
	log.Printf("created operator %q", username)
	return nil
}

// Login authenticates an operator and returns a JWT
func (a *Auth) Login(username, password, ip string) (string, error) {
	if !a.checkRate(ip) {
		return "", ErrRateLimited
	}

	op, err := a.db.GetOperatorByUsername(strings.TrimSpace(username))
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}
	if op == nil || op.PassHash == "" {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PassHash), []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	return a.generateToken(op.ID, op.Username)
}

// ValidateToken validates a JWT and returns (operatorID, username, error)
func (a *Auth) ValidateToken(tokenStr string) (int64, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, "", ErrInvalidToken
	}
	oid, ok := claims["oid"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("%w: missing oid claim", ErrInvalidToken)
	}
	username, ok := claims["usr"].(string)
	if !ok {
		return 0, "", fmt.Errorf("%w: missing usr claim", ErrInvalidToken)
	}
	return int64(oid), username, nil
}

func (a *Auth) generateToken(operatorID int64, username string) (string, error) {
	claims := jwt.MapClaims{
		"oid": operatorID,
		"usr": username,
		"exp": time.Now().Add(jwtExpiry).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
