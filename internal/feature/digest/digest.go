// Package digest assembles the per-user referral summary: referrals, their
// providers and the nearest free slots.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"emias_bot/internal/domain"
	"emias_bot/internal/emias"
	"emias_bot/internal/logging"
	"emias_bot/internal/render"
)

const (
	defaultConcurrency = 3

	textReferralsFailed = "Не удалось получить список направлений по причине: `%s`"
	textProvidersFailed = "Не удалось получить список врачей по направлению %d по причине: `%s`"
	textProvidersBlock  = "- Не удалось получить список врачей.\n\n"
)

// API is the subset of the appointment client used to build digests.
type API interface {
	FetchReferrals(ctx context.Context, creds emias.Credentials) ([]emias.Referral, error)
	FetchDoctorsOrLdps(ctx context.Context, creds emias.Credentials, referralID int64) (emias.Listing, error)
}

// Failure is a referral whose providers could not be fetched.
type Failure struct {
	ReferralID int64
	Err        error
}

// Digest is the rendered summary plus the per-referral failures that should
// be reported separately.
type Digest struct {
	Text      string
	Referrals int
	Failures  []Failure
}

// Builder fetches and renders digests.
type Builder struct {
	api         API
	concurrency int
	logger      *logrus.Entry
}

// NewBuilder constructs a Builder. concurrency bounds the provider fetches
// issued in parallel for one user.
func NewBuilder(api API, concurrency int, logger *logrus.Entry) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Builder{api: api, concurrency: concurrency, logger: logger}
}

// Build produces the digest for an eligible record. A failure to list
// referrals is returned as an error; provider failures are collected in
// Digest.Failures and rendered inline.
func (b *Builder) Build(ctx context.Context, record domain.Record) (Digest, error) {
	creds, err := emias.CredentialsFor(record)
	if err != nil {
		logging.Enrich(b.logger, logging.Context{ChatID: record.ChatID, Event: "digest_precondition"}).
			WithError(err).Error("digest requested for incomplete record")
		return Digest{}, err
	}

	referrals, err := b.api.FetchReferrals(ctx, creds)
	if err != nil {
		return Digest{}, err
	}

	listings := make([]emias.Listing, len(referrals))
	failures := make([]error, len(referrals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, referral := range referrals {
		g.Go(func() error {
			listing, err := b.api.FetchDoctorsOrLdps(gctx, creds, referral.ID)
			if err != nil {
				failures[i] = err
				return nil
			}
			listings[i] = listing
			return nil
		})
	}
	_ = g.Wait()

	var text strings.Builder
	text.WriteString(render.DigestHeader)

	digest := Digest{Referrals: len(referrals)}
	for i, referral := range referrals {
		text.WriteString(render.ReferralLine(referral))
		if failures[i] != nil {
			text.WriteString(textProvidersBlock)
			digest.Failures = append(digest.Failures, Failure{ReferralID: referral.ID, Err: failures[i]})
			continue
		}
		text.WriteString(render.ProvidersBlock(listings[i]))
	}

	digest.Text = text.String()
	return digest, nil
}

// ReferralsErrorNotice formats the notification sent when referrals could not
// be listed.
func ReferralsErrorNotice(err error) string {
	return withURL(fmt.Sprintf(textReferralsFailed, emias.Reason(err)), err)
}

// ProvidersErrorNotice formats the notification for a failed provider fetch.
func ProvidersErrorNotice(f Failure) string {
	return withURL(fmt.Sprintf(textProvidersFailed, f.ReferralID, emias.Reason(f.Err)), f.Err)
}

func withURL(text string, err error) string {
	var transport *emias.TransportError
	if errors.As(err, &transport) && transport.URL != "" {
		return text + "\n" + transport.URL
	}
	return text
}
