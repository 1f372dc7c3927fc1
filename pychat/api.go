package pychat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/pychat-sync/internal/errors"
	"github.com/alexjbarnes/pychat-sync/internal/models"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// uploadTimeout bounds a single multi-file upload request.
	uploadTimeout = 10 * time.Minute

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024

	// progressStep is how many bytes must be sent between two progress
	// reports, so a large upload does not flood the event loop.
	progressStep = 64 * 1024

	uploadPath = "/upload_file"
)

// Looper runs closures on the chat event loop. *Client satisfies it.
type Looper interface {
	Do(ctx context.Context, fn func()) error
}

// Uploader posts files to the server's upload endpoint. It implements
// chat.Uploader: each upload runs on its own goroutine and its callbacks
// are delivered back on the event loop.
type Uploader struct {
	httpClient *http.Client
	baseURL    string
	sessionID  string
	loop       Looper
	logger     *slog.Logger

	// ctx bounds every upload started by UploadFiles. Cancelling it
	// aborts in-flight requests.
	ctx context.Context //nolint:containedctx // uploads outlive the call that starts them
	wg  sync.WaitGroup
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the session cookie
// from leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewUploader creates an uploader for the server at host. If httpClient
// is nil, a client with a 10-minute timeout and same-host redirect
// policy is created.
func NewUploader(ctx context.Context, httpClient *http.Client, host, sessionID string, insecure bool, loop Looper, logger *slog.Logger) *Uploader {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       uploadTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	scheme := "https://"
	if insecure {
		scheme = "http://"
	}

	return &Uploader{
		httpClient: httpClient,
		baseURL:    scheme + host,
		sessionID:  sessionID,
		loop:       loop,
		logger:     logger,
		ctx:        ctx,
	}
}

// UploadFiles implements chat.Uploader. It returns immediately.
func (u *Uploader) UploadFiles(files []models.UploadFile, onComplete func(fileIDs []int64, err error), onProgress func(loaded, total int64)) {
	u.wg.Add(1)

	go func() {
		defer u.wg.Done()

		ids, err := u.Upload(u.ctx, files, func(loaded, total int64) {
			u.post(func() { onProgress(loaded, total) })
		})
		u.post(func() { onComplete(ids, err) })
	}()
}

// Wait blocks until every upload started by UploadFiles has delivered
// its completion.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

func (u *Uploader) post(fn func()) {
	if err := u.loop.Do(u.ctx, fn); err != nil {
		u.logger.Debug("dropping upload callback", slog.String("error", err.Error()))
	}
}

// Upload sends files in one multipart request and returns the server's
// file ids in the order the files were given. progress receives the
// number of file bytes sent so far and the total; it runs on the
// uploading goroutine.
func (u *Uploader) Upload(ctx context.Context, files []models.UploadFile, progress func(loaded, total int64)) ([]int64, error) {
	var total int64
	for _, f := range files {
		total += f.Size
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(mw, files, &progressCounter{total: total, report: progress}))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+uploadPath, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("%w: creating request: %w", apperrors.ErrAPIRequest, err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: u.sessionID})

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", apperrors.ErrUploadFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", apperrors.ErrUploadFailed, resp.StatusCode, sanitizeResponseBody(respBody))
	}

	var ids []int64
	if err := json.Unmarshal(respBody, &ids); err != nil {
		return nil, fmt.Errorf("%w: decoding file ids: %w", apperrors.ErrAPIResponse, err)
	}

	if len(ids) != len(files) {
		return nil, fmt.Errorf("%w: got %d file ids for %d files", apperrors.ErrAPIResponse, len(ids), len(files))
	}

	u.logger.Debug("files uploaded",
		slog.Int("files", len(files)),
		slog.Int64("bytes", total),
	)

	return ids, nil
}

// writeParts streams each file into its own form part keyed by the
// file's placeholder key.
func writeParts(mw *multipart.Writer, files []models.UploadFile, pc *progressCounter) error {
	for _, f := range files {
		if err := writePart(mw, f, pc); err != nil {
			return err
		}
	}

	return mw.Close()
}

func writePart(mw *multipart.Writer, f models.UploadFile, pc *progressCounter) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer src.Close()

	part, err := mw.CreateFormFile(f.Key, f.Name)
	if err != nil {
		return fmt.Errorf("creating form part: %w", err)
	}

	if _, err := io.Copy(io.MultiWriter(part, pc), src); err != nil {
		return fmt.Errorf("streaming %s: %w", f.Name, err)
	}

	return nil
}

// progressCounter counts file bytes written and reports every
// progressStep bytes and once more when the total is reached.
type progressCounter struct {
	total    int64
	written  int64
	reported int64
	report   func(loaded, total int64)
}

func (p *progressCounter) Write(b []byte) (int, error) {
	p.written += int64(len(b))

	if p.report != nil && (p.written-p.reported >= progressStep || p.written == p.total) {
		p.reported = p.written
		p.report(p.written, p.total)
	}

	return len(b), nil
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
