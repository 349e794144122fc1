package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"btbridge/internal/domain"
)

const (
	defaultGraphBase = "https://graph.microsoft.com/v1.0"

	// Graph rejects simple PUTs above 4 MiB; larger files go through an
	// upload session. Chunk size must be a multiple of 320 KiB.
	simpleUploadLimit = 4 << 20
	uploadChunkSize   = 10 * 1024 * 320 * 2 // 6.25 MiB, 320 KiB aligned
)

// OneDriveConfig carries the Microsoft application registration and token
// cache location for the Graph-backed uploader.
type OneDriveConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	TokenPath    string
	// Interactive enables the device-code flow. Headless cycles leave it
	// off and rely on a previously cached token.
	Interactive bool
	GraphBase   string
	Logger      *logrus.Logger
	Progress    ProgressFunc
	// Out receives the device-code instructions for the operator.
	Out io.Writer
}

// OneDriveUploader uploads task data to OneDrive through the Microsoft
// Graph API. Authentication uses the OAuth2 device-code flow; the token is
// cached on disk so headless runs reuse and silently refresh it.
type OneDriveUploader struct {
	cfg    OneDriveConfig
	oauth  *oauth2.Config
	logger *logrus.Logger
}

func NewOneDriveUploader(cfg OneDriveConfig) (*OneDriveUploader, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("onedrive client id is required")
	}
	if cfg.TokenPath == "" {
		return nil, fmt.Errorf("onedrive token path is required")
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "common"
	}
	if cfg.GraphBase == "" {
		cfg.GraphBase = defaultGraphBase
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	authority := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0", cfg.TenantID)
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{"Files.ReadWrite", "Files.ReadWrite.All", "offline_access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:       authority + "/authorize",
			TokenURL:      authority + "/token",
			DeviceAuthURL: authority + "/devicecode",
		},
	}

	return &OneDriveUploader{
		cfg:    cfg,
		oauth:  oauthCfg,
		logger: cfg.Logger,
	}, nil
}

func (o *OneDriveUploader) InteractiveAuth() bool { return o.cfg.Interactive }

// Authenticate runs the device-code exchange: the operator visits the
// verification URL on another device, enters the code, and the resulting
// token is cached for later headless runs.
func (o *OneDriveUploader) Authenticate(ctx context.Context) error {
	da, err := o.oauth.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("%w: start device flow: %v", domain.ErrTransient, err)
	}

	fmt.Fprintf(o.cfg.Out, "To sign in, visit %s and enter the code %s\n",
		da.VerificationURI, da.UserCode)

	tok, err := o.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		return fmt.Errorf("%w: device flow: %v", domain.ErrAuthRequired, err)
	}
	if err := saveToken(o.cfg.TokenPath, tok); err != nil {
		return err
	}
	o.logger.Info("onedrive authentication successful")
	return nil
}

func (o *OneDriveUploader) EnsureAuthenticated(ctx context.Context) error {
	_, err := o.tokenSource(ctx)
	return err
}

// tokenSource loads the cached token and wraps it in a refreshing source
// that writes refreshed tokens back to disk. With no cached token it falls
// back to the interactive flow when that is allowed.
func (o *OneDriveUploader) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := loadToken(o.cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		if !o.cfg.Interactive {
			return nil, fmt.Errorf("%w: no cached onedrive token at %s", domain.ErrAuthRequired, o.cfg.TokenPath)
		}
		if err := o.Authenticate(ctx); err != nil {
			return nil, err
		}
		if tok, err = loadToken(o.cfg.TokenPath); err != nil {
			return nil, err
		}
	}

	ts := o.oauth.TokenSource(ctx, tok)
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", domain.ErrAuthExpired, err)
	}
	return &persistingTokenSource{src: ts, path: o.cfg.TokenPath, last: tok}, nil
}

func (o *OneDriveUploader) Upload(ctx context.Context, localPath, remoteFolder string) (string, error) {
	ts, err := o.tokenSource(ctx)
	if err != nil {
		return "", err
	}
	client := oauth2.NewClient(ctx, ts)

	files, totalSize, err := collectFiles(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: scan local path: %v", domain.ErrFatal, err)
	}

	progress := newProgressReporter(totalSize, o.cfg.Progress)
	folder := "/" + strings.Trim(remoteFolder, "/")

	for _, file := range files {
		remote := path.Join(folder, file.rel)
		if file.size <= simpleUploadLimit {
			err = o.uploadSmall(ctx, client, file, remote, progress)
		} else {
			err = o.uploadChunked(ctx, client, file, remote, progress)
		}
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", file.rel, err)
		}
		o.logger.WithField("remote", remote).Debug("file uploaded")
	}

	progress.flush()
	return "onedrive:" + folder, nil
}

func (o *OneDriveUploader) uploadSmall(ctx context.Context, client *http.Client, file localFile, remote string, progress *progressReporter) error {
	f, err := os.Open(file.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrFatal, file.path, err)
	}
	defer f.Close()

	var body io.Reader = f
	if progress != nil {
		body = io.TeeReader(f, progress)
	}

	endpoint := o.itemURL(remote, "content")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	req.ContentLength = file.size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	return classifyGraphStatus(resp.StatusCode, resp.Body)
}

func (o *OneDriveUploader) uploadChunked(ctx context.Context, client *http.Client, file localFile, remote string, progress *progressReporter) error {
	sessionURL, err := o.createUploadSession(ctx, client, remote)
	if err != nil {
		return err
	}

	f, err := os.Open(file.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrFatal, file.path, err)
	}
	defer f.Close()

	buf := make([]byte, uploadChunkSize)
	var offset int64
	for offset < file.size {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", file.path, err)
		}
		if n == 0 {
			break
		}
		chunk := buf[:n]

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
		if err != nil {
			return err
		}
		req.ContentLength = int64(n)
		req.Header.Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(n)-1, file.size))

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err := classifyGraphStatus(resp.StatusCode, nil); err != nil {
			return err
		}

		offset += int64(n)
		// chunk bytes bypass the tee reader, count them directly
		progress.add(int64(n))
	}
	return nil
}

func (o *OneDriveUploader) createUploadSession(ctx context.Context, client *http.Client, remote string) (string, error) {
	endpoint := o.itemURL(remote, "createUploadSession")
	payload := strings.NewReader(`{"item":{"@microsoft.graph.conflictBehavior":"replace"}}`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	if err := classifyGraphStatus(resp.StatusCode, resp.Body); err != nil {
		return "", err
	}

	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode upload session: %w", err)
	}
	if session.UploadURL == "" {
		return "", fmt.Errorf("%w: upload session without url", domain.ErrFatal)
	}
	return session.UploadURL, nil
}

// itemURL builds a drive item address like
// {graph}/me/drive/root:/folder/file:/content.
func (o *OneDriveUploader) itemURL(remotePath, action string) string {
	escaped := url.PathEscape(strings.TrimPrefix(remotePath, "/"))
	// PathEscape also encodes the separators we need to keep
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return fmt.Sprintf("%s/me/drive/root:/%s:/%s", o.cfg.GraphBase, escaped, action)
}

// classifyGraphStatus maps a Graph response onto the gateway error
// taxonomy. The body, when given, is only consulted for the error message.
func classifyGraphStatus(status int, body io.Reader) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := fmt.Sprintf("graph status %d", status)
	if body != nil {
		var graphErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(body, 4096)).Decode(&graphErr) == nil && graphErr.Error.Code != "" {
			msg = fmt.Sprintf("graph status %d: %s: %s", status, graphErr.Error.Code, graphErr.Error.Message)
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrAuthExpired, msg)
	case status == http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrTransient, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrFatal, msg)
	}
}

// persistingTokenSource writes refreshed tokens back to the cache file so
// the next process start does not need a new interactive flow.
type persistingTokenSource struct {
	src  oauth2.TokenSource
	path string
	last *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if p.last == nil || tok.AccessToken != p.last.AccessToken {
		p.last = tok
		if err := saveToken(p.path, tok); err != nil {
			return nil, err
		}
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token cache %s: %w", path, err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	return nil
}

var _ Uploader = (*OneDriveUploader)(nil)
