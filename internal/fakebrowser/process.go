package fakebrowser

import (
	"context"
	"fmt"
	"io"
)

// Run starts a server and announces it on stderr the way a real browser does, then serves
// until ctx is done or a client sends Browser.close.
// It lets tests and the CLI use a fake browser process with the real launcher.
func Run(ctx context.Context, stderr io.Writer, opts ...Option) error {
	s := NewServer(opts...)
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Close()

	if _, err := fmt.Fprintf(stderr, "\nDevTools listening on %s\n", s.URL()); err != nil {
		return fmt.Errorf("announcing endpoint: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-s.Done():
	}
	return nil
}
