// Package batch runs a file of prompts through the studio workflow,
// one session per batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pixelflare/pixelflare/internal/studio"
	"github.com/pixelflare/pixelflare/pkg/models"
)

// ErrGenerationFailed marks an item whose exchange settled with a
// failure notice instead of an image.
var ErrGenerationFailed = errors.New("image generation failed")

type Result struct {
	Index    int
	Prompt   string
	ImageURL string
	Error    error
	Duration time.Duration
}

type Options struct {
	// StyleID applies to items without their own style.
	StyleID string

	StopOnError bool

	// DelayMs pauses between items to stay polite to the public
	// endpoint.
	DelayMs int
}

// Runner feeds items through a studio manager sequentially. Prompt
// sends are serialized by the manager, so there is nothing to gain
// from running items in parallel.
type Runner struct {
	studio *studio.Manager
	out    io.Writer
	err    io.Writer
	outMu  sync.Mutex
}

func NewRunner(mgr *studio.Manager, out, errOut io.Writer) *Runner {
	return &Runner{
		studio: mgr,
		out:    out,
		err:    errOut,
	}
}

func (r *Runner) printf(format string, args ...interface{}) {
	r.outMu.Lock()
	fmt.Fprintf(r.out, format, args...)
	r.outMu.Unlock()
}

func (r *Runner) errorf(format string, args ...interface{}) {
	r.outMu.Lock()
	fmt.Fprintf(r.err, format, args...)
	r.outMu.Unlock()
}

// Run sends every item into a fresh session and returns one result per
// item. The session id of the batch is returned so callers can open it
// afterwards.
func (r *Runner) Run(ctx context.Context, userID string, items []Item, opts *Options) ([]Result, string, error) {
	sess, err := r.studio.CreateSession(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("creating batch session: %w", err)
	}

	results := make([]Result, len(items))
	total := len(items)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return results, sess.ID, ctx.Err()
		default:
		}

		result := r.processItem(ctx, userID, sess.ID, item, opts, i+1, total)
		results[i] = result

		if result.Error != nil && opts.StopOnError {
			return results, sess.ID, fmt.Errorf("stopped at item %d: %w", i+1, result.Error)
		}

		if opts.DelayMs > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, sess.ID, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, sess.ID, nil
}

func (r *Runner) processItem(ctx context.Context, userID, sessionID string, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:  item.Index,
		Prompt: item.Prompt,
	}

	r.printf("[%d/%d] Generating: %q...\n", current, total, truncate(item.Prompt, 50))

	style := item.Style
	if style == "" {
		style = opts.StyleID
	}

	if err := r.studio.SendPrompt(ctx, userID, sessionID, item.Prompt, style); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		r.errorf("       Error: %v\n", err)
		return result
	}

	messages, err := r.studio.Messages(ctx, userID, sessionID)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		r.errorf("       Error: %v\n", err)
		return result
	}

	result.Duration = time.Since(start)
	if last := latestReply(messages); last != nil && last.IsImage() {
		result.ImageURL = last.Body
		r.printf("       Image: %s\n", result.ImageURL)
	} else {
		result.Error = ErrGenerationFailed
		r.errorf("       Error: %v\n", result.Error)
	}
	return result
}

// latestReply returns the newest assistant message.
func latestReply(messages []*models.Message) *models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return messages[i]
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (r *Runner) PrintSummary(results []Result) {
	var successful, failed int
	var errs []Result

	for _, res := range results {
		if res.Error != nil {
			failed++
			errs = append(errs, res)
		} else {
			successful++
		}
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Summary:")
	fmt.Fprintf(r.out, "  Successful: %d/%d images\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(r.out, "  Failed: %d (see errors below)\n", failed)
	}

	if len(errs) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, "Errors:")
		for _, e := range errs {
			fmt.Fprintf(r.out, "  [%d] %q: %v\n", e.Index, truncate(e.Prompt, 40), e.Error)
		}
	}
}
