// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends mail alerts about failing boards.
package alert // import "github.com/go-lpc/uartfix/internal/alert"

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-lpc/uartfix/harness"
	"github.com/rs/zerolog"
	mail "gopkg.in/gomail.v2"
)

// MaxAlerts is the number of alerts sent per board before going quiet.
const MaxAlerts = 5

// Mailer sends alert mails through an SMTP server.
type Mailer struct {
	Server string
	Port   int
	User   string
	Pass   string
	To     []string

	msg  zerolog.Logger
	send func(msgs ...*mail.Message) error

	mu     sync.Mutex
	alerts map[string]int // number of alerts per board
}

// FromEnv creates a Mailer from the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
func FromEnv(msg zerolog.Logger) *Mailer {
	port, _ := strconv.Atoi(os.Getenv("MAIL_PORT"))
	var tgts []string
	for _, v := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		if v = strings.TrimSpace(v); v != "" {
			tgts = append(tgts, v)
		}
	}
	return New(os.Getenv("MAIL_SERVER"), port, os.Getenv("MAIL_USERNAME"), os.Getenv("MAIL_PASSWORD"), tgts, msg)
}

// New creates a Mailer.
func New(srv string, port int, usr, pwd string, to []string, msg zerolog.Logger) *Mailer {
	m := &Mailer{
		Server: srv,
		Port:   port,
		User:   usr,
		Pass:   pwd,
		To:     to,
		msg:    msg,
		alerts: make(map[string]int),
	}
	m.send = m.dialAndSend
	return m
}

// Enabled reports whether all the credentials needed to send mails are set.
func (m *Mailer) Enabled() bool {
	return m.User != "" && m.Pass != "" && m.Server != "" && m.Port != 0 && len(m.To) > 0
}

func (m *Mailer) dialAndSend(msgs ...*mail.Message) error {
	dial := mail.NewDialer(m.Server, m.Port, m.User, m.Pass)
	dial.TLSConfig = &tls.Config{ServerName: m.Server}
	return dial.DialAndSend(msgs...)
}

// Report sends an alert for a failed scenario. Passing scenarios are
// ignored, and at most MaxAlerts alerts are sent per board.
// Report returns whether a mail was sent.
func (m *Mailer) Report(rep harness.Report) (bool, error) {
	if rep.Status == harness.StatusPass {
		return false, nil
	}

	m.mu.Lock()
	m.alerts[rep.Board]++
	n := m.alerts[rep.Board]
	m.mu.Unlock()

	m.msg.Warn().
		Str("board", rep.Board).
		Str("scenario", rep.Name).
		Stringer("status", rep.Status).
		Int("alerts", n).
		Msg("scenario failed")

	if n > MaxAlerts {
		return false, nil
	}
	if !m.Enabled() {
		m.msg.Warn().Msg("could not send mail alert: missing credentials")
		return false, nil
	}

	body := new(strings.Builder)
	_, err := rep.WriteTo(body)
	if err != nil {
		return false, fmt.Errorf("alert: could not render report: %w", err)
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.User)
	msg.SetHeader("Bcc", m.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[uartfix] board %s: %s %v", rep.Board, rep.Name, rep.Status))
	msg.SetBody("text/plain", body.String())

	err = m.send(msg)
	if err != nil {
		return false, fmt.Errorf("alert: could not send mail alert: %w", err)
	}
	return true, nil
}
