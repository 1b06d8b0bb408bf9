package gbackup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultBaseURL     = "https://www.googleapis.com/drive/v3/"
	DefaultUploadURL   = "https://www.googleapis.com/upload/drive/v3"
	DefaultBoundary    = "MONEYMAN"
	DefaultFileName    = "backup_moneyman.json"
	DefaultDescription = "Backup data for my app"
)

type Config struct {
	BaseURL     string
	UploadURL   string
	Boundary    string
	FileName    string
	Description string
}

func (c *Config) withDefaults() *Config {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	cfg.UploadURL = strings.TrimSuffix(cfg.UploadURL, "/")
	if cfg.Boundary == "" {
		cfg.Boundary = DefaultBoundary
	}
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if cfg.Description == "" {
		cfg.Description = DefaultDescription
	}
	return &cfg
}

// Service keeps one JSON backup in the Drive appDataFolder of the signed in
// user and remembers the id of that file in the store.
//
// Operations take no lock: two uploads running at the same time both read
// the stored file id and the last one to finish wins.
type Service struct {
	identity   IdentityProvider
	store      Store
	config     *Config
	httpClient *http.Client
}

type Option func(*Service)

// WithHTTPClient sets the client whose transport carries every Drive call.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.httpClient = client
	}
}

func New(identity IdentityProvider, store Store, config *Config, opts ...Option) *Service {
	s := &Service{
		identity:   identity,
		store:      store,
		config:     config.withDefaults(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignInAndDiscover signs the user in and looks for an existing backup. An
// account without a backup is not an error: the returned Discovery then has
// no file id and no payload.
func (s *Service) SignInAndDiscover(ctx context.Context) (*Discovery, error) {
	discovery, err := s.signInAndDiscover(ctx)
	if err != nil {
		return nil, s.fail("sign in", err)
	}
	return discovery, nil
}

func (s *Service) signInAndDiscover(ctx context.Context) (*Discovery, error) {
	if err := s.identity.CheckAvailability(ctx); err != nil {
		return nil, err
	}
	creds, err := s.identity.SignIn(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(ctx, s.store, KeyUserInfo, creds.Profile); err != nil {
		return nil, err
	}
	discovery := &Discovery{Profile: creds.Profile}

	logrus.WithField("email", creds.Profile.Email).Info("checking backup data")
	fileID, listed, err := s.findBackup(ctx)
	if err != nil {
		return nil, err
	}
	if !listed {
		return discovery, nil
	}
	if fileID == "" {
		logrus.Info("no backup file")
		if err := s.store.Delete(ctx, KeyBackupFileID); err != nil {
			return nil, err
		}
		return discovery, nil
	}

	payload, err := s.download(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, KeyBackupFileID, []byte(fileID)); err != nil {
		return nil, err
	}
	discovery.FileID = fileID
	discovery.Payload = payload
	logrus.WithField("fileID", fileID).Info("backup found")
	return discovery, nil
}

// SignOut revokes the grant and ends the identity session. It does not touch
// the store; see ClearSession.
func (s *Service) SignOut(ctx context.Context) error {
	if err := s.identity.RevokeAndSignOut(ctx); err != nil {
		return s.fail("sign out", err)
	}
	return nil
}

// Upload creates the backup file on first use and updates it afterwards. The
// id Drive answers with replaces the stored one.
func (s *Service) Upload(ctx context.Context, payload json.RawMessage) error {
	if err := s.upload(ctx, payload); err != nil {
		return s.fail("upload", err)
	}
	return nil
}

func (s *Service) upload(ctx context.Context, payload json.RawMessage) error {
	if _, err := s.identity.SignInSilently(ctx); err != nil {
		return err
	}
	client, err := s.authorizedClient(ctx)
	if err != nil {
		return err
	}
	fileID, err := LoadBackupFileID(ctx, s.store)
	if err != nil {
		return err
	}

	body, err := EncodeMultipart(s.config.backupMetadata(fileID == ""), payload, s.config.Boundary)
	if err != nil {
		return err
	}
	method, target := http.MethodPost, s.config.UploadURL+"/files"
	if fileID != "" {
		method = http.MethodPatch
		target += "/" + url.PathEscape(fileID)
	}
	target += "?uploadType=multipart"

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", multipartContentType(s.config.Boundary))
	req.ContentLength = int64(len(body))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}

	file := &drive.File{}
	if err := json.NewDecoder(resp.Body).Decode(file); err != nil {
		return fmt.Errorf("decode upload response: %w", err)
	}
	if file.Id == "" {
		return ErrMissingFileID
	}
	if err := s.store.Set(ctx, KeyBackupFileID, []byte(file.Id)); err != nil {
		return err
	}
	logrus.WithField("fileID", file.Id).WithField("method", method).Info("backup uploaded")
	return nil
}

// Download returns the content of the backup file with the given id.
func (s *Service) Download(ctx context.Context, fileID string) (json.RawMessage, error) {
	payload, err := s.download(ctx, fileID)
	if err != nil {
		return nil, s.fail("download", err)
	}
	return payload, nil
}

func (s *Service) download(ctx context.Context, fileID string) (json.RawMessage, error) {
	if fileID == "" {
		return nil, ErrNoFileID
	}
	svc, err := s.driveService(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrMalformedBackup)
	}
	return json.RawMessage(b), nil
}

// findBackup returns the id of the first file in the appDataFolder. listed is
// false when Drive refuses the listing; the stored id must then stay as is.
func (s *Service) findBackup(ctx context.Context) (fileID string, listed bool, err error) {
	svc, err := s.driveService(ctx)
	if err != nil {
		return "", false, err
	}
	list, err := svc.Files.List().Spaces(appDataFolder).Fields("files/id").Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		logrus.WithField("status", apiErr.Code).Info("backup listing not available")
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(list.Files) == 0 {
		return "", true, nil
	}
	if len(list.Files) > 1 {
		logrus.WithField("count", len(list.Files)).Debug("more than one backup file, using the first")
	}
	return list.Files[0].Id, true, nil
}

func (s *Service) driveService(ctx context.Context) (*drive.Service, error) {
	client, err := s.authorizedClient(ctx)
	if err != nil {
		return nil, err
	}
	return drive.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(s.config.BaseURL))
}

// authorizedClient asks the identity provider for a token on every call.
func (s *Service) authorizedClient(ctx context.Context) (*http.Client, error) {
	token, err := s.identity.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})), nil
}

func (s *Service) fail(op string, err error) error {
	notification := Classify(err)
	entry := logrus.WithError(err).WithField("op", op).WithField("category", notification.Category.String())
	if notification.Category == CategoryGeneric {
		entry.Error("backup operation failed")
	} else {
		entry.Warn("backup operation failed")
	}
	return &Error{Op: op, Notification: notification, Err: err}
}
