package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

var ErrSessionExpired = errors.New("auth: session expired")

// Session stores one login. The upstream access token is sealed at rest and
// only unsealed per request to build the version-control client.
type Session struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID   string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	Login       string    `gorm:"type:varchar(64);index;not null" json:"login"`
	AvatarURL   string    `gorm:"type:text" json:"avatar_url"`
	SealedToken string    `gorm:"type:text;not null" json:"-"`
	CanWrite    bool      `gorm:"not null" json:"can_write"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

type SessionStore struct {
	db     *gorm.DB
	sealer *Sealer
}

func NewSessionStore(db *gorm.DB, sealer *Sealer) *SessionStore {
	return &SessionStore{db: db, sealer: sealer}
}

func newSessionID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Create seals the access token and persists a fresh session.
func (s *SessionStore) Create(ctx context.Context, login, avatarURL, accessToken string, canWrite bool) (*Session, error) {
	sealed, err := s.sealer.Seal(accessToken)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		SessionID:   newSessionID(),
		Login:       login,
		AvatarURL:   avatarURL,
		SealedToken: sealed,
		CanWrite:    canWrite,
		ExpiresAt:   time.Now().Add(SessionTTL),
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a live session; expired rows are treated as gone.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&sess).Error; err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return &sess, nil
}

// Token unseals the stored access token.
func (s *SessionStore) Token(sess *Session) (string, error) {
	return s.sealer.Open(sess.SealedToken)
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Session{}).Error
}

// PurgeExpired drops sessions past their deadline. Called opportunistically
// from the API process.
func (s *SessionStore) PurgeExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&Session{}).Error
}

// OAuthExchanger trades an authorization code for an access token against the
// provider's token endpoint. Pointing TokenURL at a test server keeps the
// flow testable.
type OAuthExchanger struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	HTTP         *http.Client
}

func NewOAuthExchanger(clientID, clientSecret, redirectURI string) *OAuthExchanger {
	return &OAuthExchanger{
		TokenURL:     "https://github.com/login/oauth/access_token",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		HTTP:         &http.Client{Timeout: 15 * time.Second},
	}
}

// Exchange performs the code-for-token exchange. Provider errors come back in
// a 200 body, so both the status and the error field are checked.
func (e *OAuthExchanger) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"client_id":     {e.ClientID},
		"client_secret": {e.ClientSecret},
		"code":          {code},
	}
	if e.RedirectURI != "" {
		form.Set("redirect_uri", e.RedirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: token exchange status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("auth: token exchange: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("auth: token exchange: %s: %s", out.Error, out.ErrorDescription)
	}
	if out.AccessToken == "" {
		return "", errors.New("auth: token exchange returned no token")
	}
	return out.AccessToken, nil
}
