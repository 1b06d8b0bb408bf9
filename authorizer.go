package gbackup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ConsoleAuthorizer asks the user to open the consent page and paste the
// authorization code back. End of input cancels the sign in.
func ConsoleAuthorizer(in io.Reader, out io.Writer) Authorizer {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, authURL string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(out, "Open the following URL in your browser and paste the authorization code:\n\n%s\n\ncode: ", authURL)
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
			return "", ErrSignInCancelled
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
