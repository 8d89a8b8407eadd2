// Package notify fans emergency alerts out to a device's contacts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kushagra0333/complete-mitr/internal/device"

	clog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// Result is the outcome of one contact's alert.
type Result struct {
	ContactName string         `json:"contactName"`
	Status      DeliveryStatus `json:"status"`
	ProviderID  string         `json:"sid,omitempty"`
	Error       string         `json:"error,omitempty"`
}

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 4
)

// Dispatcher sends emergency alerts through a Gateway. A nil gateway records
// every contact as failed.
type Dispatcher struct {
	gateway     Gateway
	trackingURL string
	timeout     time.Duration
	concurrency int
	log         *clog.Logger
}

func NewDispatcher(gateway Gateway, trackingURL string, timeout time.Duration, log *clog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		gateway:     gateway,
		trackingURL: trackingURL,
		timeout:     timeout,
		concurrency: defaultConcurrency,
		log:         log,
	}
}

// Message renders the alert text for deviceID.
func (d *Dispatcher) Message(deviceID string) string {
	return fmt.Sprintf("🚨 EMERGENCY ALERT from MITR Device %s\nHelp needed! Click to see location: %s\nThis is an automated alert from MITR SOS system.",
		deviceID, d.trackingURL)
}

// SendEmergencyAlerts attempts every contact independently and returns one
// result per contact, in contact order. It never fails as a whole.
func (d *Dispatcher) SendEmergencyAlerts(ctx context.Context, contacts []device.EmergencyContact, deviceID string) []Result {
	results := make([]Result, len(contacts))
	if len(contacts) == 0 {
		return results
	}
	body := d.Message(deviceID)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, contact := range contacts {
		i, contact := i, contact
		g.Go(func() error {
			results[i] = d.sendOne(ctx, contact, body)
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for _, r := range results {
		if r.Status == StatusSent {
			sent++
		}
	}
	if d.log != nil {
		d.log.Info("emergency alerts dispatched", "device_id", deviceID, "sent", sent, "failed", len(results)-sent)
	}
	return results
}

func (d *Dispatcher) sendOne(ctx context.Context, contact device.EmergencyContact, body string) Result {
	res := Result{ContactName: contact.Name}
	if d.gateway == nil {
		return d.failed(res, ErrUnconfigured)
	}
	to := CleanNumber(contact.Phone)
	if to == "" {
		return d.failed(res, errors.New("contact has no phone number"))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		id  string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		id, err := d.gateway.Send(ctx, to, body)
		done <- outcome{id, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return d.failed(res, o.err)
		}
		res.Status = StatusSent
		res.ProviderID = o.id
		return res
	case <-ctx.Done():
		return d.failed(res, ctx.Err())
	}
}

func (d *Dispatcher) failed(res Result, err error) Result {
	res.Status = StatusFailed
	res.Error = err.Error()
	if d.log != nil {
		d.log.Warn("emergency alert failed", "contact", res.ContactName, "err", err)
	}
	return res
}
