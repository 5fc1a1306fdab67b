package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

// DefaultCallbackAddr is where WaitForCode listens unless told otherwise.
const DefaultCallbackAddr = "127.0.0.1:8976"

// CallbackTimeout bounds how long WaitForCode waits for the browser.
var CallbackTimeout = 5 * time.Minute

// ErrCallbackTimeout is returned when no provider callback arrived in time.
var ErrCallbackTimeout = errors.New("timed out waiting for the sign-in callback")

const (
	callbackOK     = "<html><body><h1>Signed in</h1><p>You can close this window and return to the terminal.</p></body></html>"
	callbackFailed = "<html><body><h1>Sign-in failed</h1><p>%s</p></body></html>"
)

// WaitForCode listens on addr for the provider's redirect and returns the
// code query parameter it carries. ready is called with the callback URL
// once the listener is up.
func WaitForCode(ctx context.Context, addr string, ready func(callbackURL string)) (string, error) {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server: %w", err)
	}
	defer func() { _ = listener.Close() }()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if msg := q.Get("error"); msg != "" {
				if desc := q.Get("error_description"); desc != "" {
					msg += ": " + desc
				}
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, callbackFailed, "The provider refused the request.")
				select {
				case errCh <- fmt.Errorf("provider error: %s", msg):
				default:
				}
				return
			}
			code := q.Get("code")
			if code == "" {
				// Favicon and other stray requests.
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, callbackOK)
			select {
			case codeCh <- code:
			default:
			}
		}),
	}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Close() }()

	if ready != nil {
		ready("http://" + listener.Addr().String() + "/callback")
	}

	timer := time.NewTimer(CallbackTimeout)
	defer timer.Stop()

	select {
	case code := <-codeCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", ErrCallbackTimeout
	}
}

// OpenBrowser opens url in the default browser without waiting for it.
func OpenBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start() //nolint:gosec,noctx // cmd is fixed per platform
}
