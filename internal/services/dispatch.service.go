package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gateway "github.com/nimasrn/mail-tracker/internal/gateways"
	"github.com/nimasrn/mail-tracker/internal/ident"
	"github.com/nimasrn/mail-tracker/internal/lock"
	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/recipients"
	"github.com/nimasrn/mail-tracker/internal/repository"
	"github.com/nimasrn/mail-tracker/internal/templates"
	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/nimasrn/mail-tracker/pkg/prom"
)

var (
	ErrBatchInProgress = lock.ErrBatchInProgress
	ErrTemplate        = errors.New("email template is invalid")
	ErrRecipients      = errors.New("recipient list could not be loaded")
	ErrMissingAddress  = errors.New("recipient has no email address")
)

const batchLockName = "send-emails"

const (
	stageRender    = "render"
	stageStore     = "store"
	stageTransport = "transport"
	stageAddress   = "address"
)

type DispatchConfig struct {
	// BaseURL prefixes the pixel and click URLs, without trailing slash.
	BaseURL     string
	Subject     string
	Body        string
	FromName    string
	FromAddress string
	Fields      model.RecipientFields
	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration
}

type DispatchService struct {
	store     repository.TrackingStore
	transport gateway.Transport
	source    recipients.Source
	locker    lock.Locker
	engine    *templates.Engine
	newID     ident.Generator
	config    DispatchConfig
	now       func() time.Time
}

func NewDispatchService(
	store repository.TrackingStore,
	transport gateway.Transport,
	source recipients.Source,
	locker lock.Locker,
	config DispatchConfig,
) *DispatchService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if config.Fields.Email == "" {
		config.Fields = model.DefaultRecipientFields()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &DispatchService{
		store:     store,
		transport: transport,
		source:    source,
		locker:    locker,
		engine:    templates.NewEngine(),
		newID:     ident.Generate,
		config:    config,
		now:       time.Now,
	}
}

// WithGenerator swaps the tracking id generator.
func (s *DispatchService) WithGenerator(g ident.Generator) *DispatchService {
	s.newID = g
	return s
}

// SendBatch runs one full batch: compile the templates, take the batch lock,
// load the recipients and dispatch them.
func (s *DispatchService) SendBatch(ctx context.Context) (*model.BatchResult, error) {
	tpl, err := s.engine.Compile(s.config.Subject, s.config.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}

	release, err := s.locker.Acquire(ctx, batchLockName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			logger.Warn("failed to release batch lock", "error", err)
		}
	}()

	list, err := s.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecipients, err)
	}
	return s.Dispatch(ctx, list, tpl)
}

// Dispatch sends to every eligible recipient in input order. A failure for
// one recipient is recorded and the loop moves on; records created before a
// failed transport call are kept.
func (s *DispatchService) Dispatch(ctx context.Context, list []*model.Recipient, tpl *templates.Template) (*model.BatchResult, error) {
	start := s.now()
	result := model.NewBatchResult()

	for _, r := range list {
		if !r.Truthy(s.config.Fields.Send) {
			continue
		}
		result.Total++

		if err := ctx.Err(); err != nil {
			result.AddFailure(s.outcome(r, "", err))
			continue
		}
		s.dispatchOne(ctx, r, tpl, result)
	}

	prom.ObserveBatch(s.now().Sub(start).Seconds())
	logger.Info("dispatch batch finished",
		"total", result.Total,
		"sent", result.Sent,
		"failed", result.Failed,
		"transport", s.transport.Name(),
		"duration", s.now().Sub(start).String(),
	)
	return result, nil
}

func (s *DispatchService) dispatchOne(ctx context.Context, r *model.Recipient, tpl *templates.Template, result *model.BatchResult) {
	transport := s.transport.Name()
	address := strings.TrimSpace(r.Get(s.config.Fields.Email))
	if address == "" {
		prom.IncMailFailed(transport, stageAddress)
		result.AddFailure(s.outcome(r, "", ErrMissingAddress))
		return
	}

	trackingID := s.newID()
	log := logger.With("tracking_id", trackingID, "email", address, "transport", transport)
	links := s.links(r)
	subject, body, err := tpl.Render(s.bindings(r, trackingID, links))
	if err != nil {
		prom.IncMailFailed(transport, stageRender)
		log.Warn("failed to render email", "error", err)
		result.AddFailure(s.outcome(r, "", err))
		return
	}

	rec := &model.TrackingRecord{
		TrackingID:       trackingID,
		RecipientName:    r.Get(s.config.Fields.Name),
		RecipientAddress: address,
		Links:            links,
		SentAt:           s.now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		prom.IncMailFailed(transport, stageStore)
		prom.IncStoreError("create")
		log.Error("failed to create tracking record", "error", err)
		result.AddFailure(s.outcome(r, "", err))
		return
	}

	sendCtx, cancel := s.sendContext(ctx)
	sendStart := s.now()
	messageID, err := s.transport.Send(sendCtx, &gateway.Email{
		TrackingID: trackingID,
		FromName:   s.config.FromName,
		From:       s.config.FromAddress,
		ToName:     rec.RecipientName,
		To:         address,
		Subject:    subject,
		HTML:       body,
	})
	cancel()
	prom.ObserveMailSend(transport, s.now().Sub(sendStart).Seconds())
	if err != nil {
		prom.IncMailFailed(transport, stageTransport)
		log.Warn("failed to send email", "error", err)
		result.AddFailure(s.outcome(r, trackingID, err))
		return
	}

	if err := s.store.SetTransportMessageID(ctx, trackingID, messageID); err != nil {
		prom.IncStoreError("set_transport_message_id")
		log.Error("failed to store transport message id", "message_id", messageID, "error", err)
	}

	prom.IncMailSent(transport)
	log.Info("email sent", "message_id", messageID)
	o := s.outcome(r, trackingID, nil)
	o.MessageID = messageID
	result.AddSuccess(o)
}

func (s *DispatchService) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.SendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.SendTimeout)
}

// links builds one entry per non-empty destination field, in field order.
func (s *DispatchService) links(r *model.Recipient) []*model.LinkEntry {
	links := make([]*model.LinkEntry, 0, len(s.config.Fields.Links))
	for _, field := range s.config.Fields.Links {
		v := strings.TrimSpace(r.Get(field))
		if v == "" {
			continue
		}
		links = append(links, &model.LinkEntry{LinkID: field, OriginalURL: v})
	}
	return links
}

func (s *DispatchService) bindings(r *model.Recipient, trackingID string, links []*model.LinkEntry) map[string]any {
	b := r.Map()
	b[templates.PixelBinding] = s.OpenURL(trackingID)
	b["senderName"] = s.config.FromName
	for _, l := range links {
		b["original_"+l.LinkID] = l.OriginalURL
		b[l.LinkID] = s.ClickURL(trackingID, l.LinkID)
	}
	return b
}

func (s *DispatchService) OpenURL(trackingID string) string {
	return s.config.BaseURL + "/track/open/" + url.PathEscape(trackingID)
}

func (s *DispatchService) ClickURL(trackingID, linkID string) string {
	return s.config.BaseURL + "/track/click/" + url.PathEscape(trackingID) + "/" + url.PathEscape(linkID)
}

func (s *DispatchService) outcome(r *model.Recipient, trackingID string, err error) *model.DispatchOutcome {
	o := &model.DispatchOutcome{
		Name:       r.Get(s.config.Fields.Name),
		Email:      r.Get(s.config.Fields.Email),
		TrackingID: trackingID,
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}
