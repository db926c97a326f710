// Package notify fires session-completion and error notifications through
// two independently gated sinks: SMTP email and an HTTP webhook (spec.md
// §6 "Notifications"). Ground: notification_service.py:NotificationService.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	mail "gopkg.in/mail.v2"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
	"github.com/Antheor0/managed-media-compressor/pkg/resource"
)

// Service wires both notification sinks from configuration.
type Service struct {
	cfg *config.Config
	log *logging.Logger
	res *resource.Monitor

	httpClient *retryablehttp.Client
}

// New constructs a Service. res is used to read free disk space for the
// webhook payload's system_info block.
func New(cfg *config.Config, log *logging.Logger, res *resource.Monitor) *Service {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil // silence retryablehttp's default stderr logger; dispatch logs send failures itself
	return &Service{cfg: cfg, log: log.With("notify"), res: res, httpClient: client}
}

// payload is the JSON body posted to the webhook sink, ground: spec.md §6
// ("JSON POST with fields level, message, timestamp, plus system info
// hostname, free_space_gb").
type payload struct {
	Level     string       `json:"level"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	System    systemInfo   `json:"system_info"`
}

type systemInfo struct {
	Hostname    string  `json:"hostname"`
	FreeSpaceGB float64 `json:"free_space_gb"`
}

// NotifyCompletion fires both sinks (subject to their own on_completion
// flags) after a compression session drains successfully.
func (s *Service) NotifyCompletion(message string) {
	s.dispatch("info", message, s.cfg.Notifications.Email.OnCompletion, s.cfg.Notifications.Webhook.OnCompletion)
}

// NotifyError fires both sinks (subject to their own on_error flags). The
// pipeline sends it once per session that ended with at least one file
// error, not once per failed file; each file's error is recorded on its
// catalog record.
func (s *Service) NotifyError(message string) {
	s.dispatch("error", message, s.cfg.Notifications.Email.OnError, s.cfg.Notifications.Webhook.OnError)
}

func (s *Service) dispatch(level, message string, emailGate, webhookGate bool) {
	if s.cfg.Notifications.Email.Enabled && emailGate {
		if err := s.sendEmail(level, message); err != nil {
			s.log.Warnf("sending email notification: %v", err)
		}
	}
	if s.cfg.Notifications.Webhook.Enabled && webhookGate {
		if err := s.sendWebhook(level, message); err != nil {
			s.log.Warnf("sending webhook notification: %v", err)
		}
	}
}

// sendEmail delivers a plain-body STARTTLS message, ground:
// notification_service.py:_send_email.
func (s *Service) sendEmail(level, message string) error {
	ec := s.cfg.Notifications.Email
	m := mail.NewMessage()
	m.SetHeader("From", ec.FromAddr)
	m.SetHeader("To", ec.ToAddr)
	m.SetHeader("Subject", fmt.Sprintf("[media-compressor] %s", level))
	m.SetBody("text/plain", message)

	d := mail.NewDialer(ec.SMTPServer, ec.SMTPPort, ec.Username, ec.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	return d.DialAndSend(m)
}

// sendWebhook posts the JSON payload, ground:
// notification_service.py:_send_webhook.
func (s *Service) sendWebhook(level, message string) error {
	hostname, _ := os.Hostname()
	freeGB := 0.0
	if s.res != nil {
		if mb, err := s.res.FreeSpaceMB(s.cfg.TempDir); err == nil {
			freeGB = mb / 1024
		}
	}

	body := payload{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
		System:    systemInfo{Hostname: hostname, FreeSpaceGB: freeGB},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, s.cfg.Notifications.Webhook.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
