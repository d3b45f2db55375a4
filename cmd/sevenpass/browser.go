package main

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"runtime"
)

// browserPresenter shows authorization URLs in the system browser.
type browserPresenter struct{}

func (browserPresenter) Present(ctx context.Context, url string) error {
	if err := openBrowser(ctx, url); err != nil {
		slog.Error("Failed to open browser", "err", err)
		slog.Info("Please open the following URL in your browser", "url", url)
	}
	return nil
}

// Dismiss is a no-op: a tab opened through the OS cannot be closed from
// here. The result page closes itself instead.
func (browserPresenter) Dismiss(context.Context) error {
	return nil
}

func openBrowser(ctx context.Context, url string) error {
	switch runtime.GOOS {
	case "linux":
		return exec.CommandContext(ctx, "xdg-open", url).Start()
	case "windows":
		return exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		return exec.CommandContext(ctx, "open", url).Start()
	default:
		return errors.New("unsupported platform")
	}
}
