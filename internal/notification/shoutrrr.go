package notification

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/smartsafety/safetyvision/internal/errors"
)

// shoutrrrSender is the subset of the shoutrrr router used by the provider.
type shoutrrrSender interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrProvider sends through any shoutrrr service URL, for example
// telegram://token@telegram?chats=-100123.
type ShoutrrrProvider struct {
	urls   []string
	sender shoutrrrSender
}

// NewShoutrrrProvider validates urls and builds a single router for them.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// The URL may carry a bot token, so it is left out of the error.
		return nil, errors.Newf("invalid shoutrrr URL: %s", redactedServiceError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		router.Timeout = timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrProvider{urls: slices.Clone(urls), sender: router}, nil
}

func (p *ShoutrrrProvider) Name() string { return "shoutrrr" }

// Send delivers to every configured URL. The router applies its own timeout.
func (p *ShoutrrrProvider) Send(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	var errs []error
	for _, err := range p.sender.Send(n.Title+"\n\n"+n.Message, &params) {
		if err != nil {
			errs = append(errs, errors.NewStd(redactedServiceError(err)))
		}
	}
	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("notification").
			Category(errors.CategoryIntegration).
			Context("provider", p.Name()).
			Build()
	}
	return nil
}

func (p *ShoutrrrProvider) Close() error { return nil }

// redactedServiceError strips URL userinfo from shoutrrr errors.
func redactedServiceError(err error) string {
	return redactURLs(err.Error())
}
