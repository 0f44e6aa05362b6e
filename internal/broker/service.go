package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/vdi-broker/vdi-broker/internal/access"
	"github.com/vdi-broker/vdi-broker/internal/contracts"
	"github.com/vdi-broker/vdi-broker/internal/secrets"
	"github.com/vdi-broker/vdi-broker/internal/session"
	"github.com/vdi-broker/vdi-broker/internal/tickets"
	"github.com/vdi-broker/vdi-broker/internal/transport"
)

// Service coordinates resolution, negotiation, tickets and sessions behind
// the connection protocol.
type Service struct {
	repo       Repository
	resolver   *Resolver
	negotiator *transport.Negotiator
	registry   *transport.Registry
	tickets    tickets.Broker
	cipher     *secrets.Cipher
	sessions   session.Store
	auth       *access.Authenticator
	nc         *nats.Conn
	logger     zerolog.Logger

	publicHost string
	ticketTTL  time.Duration
	sessionTTL time.Duration

	now   func() time.Time
	newID func() string
}

type Options struct {
	PublicHost string
	TicketTTL  time.Duration
	SessionTTL time.Duration
}

func NewService(repo Repository, resolver *Resolver, negotiator *transport.Negotiator, registry *transport.Registry, ticketBroker tickets.Broker, cipher *secrets.Cipher, sessions session.Store, auth *access.Authenticator, nc *nats.Conn, logger zerolog.Logger, opts Options) *Service {
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = 60 * time.Second
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		resolver:   resolver,
		negotiator: negotiator,
		registry:   registry,
		tickets:    ticketBroker,
		cipher:     cipher,
		sessions:   sessions,
		auth:       auth,
		nc:         nc,
		logger:     logger,
		publicHost: opts.PublicHost,
		ticketTTL:  opts.TicketTTL,
		sessionTTL: opts.SessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

func (s *Service) ParseToken(token string) (access.Claims, error) {
	return s.auth.ParseToken(token)
}

type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Scrambler string `json:"scrambler"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

var ErrInvalidCredentials = errors.New("invalid credentials")

// Login verifies the user (creating it on first login), stashes the
// credential encrypted under the login scrambler in the session store, and
// mints the session token.
func (s *Service) Login(ctx context.Context, req LoginRequest, correlationID string) (LoginResponse, error) {
	user, err := s.repo.UserByUsername(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return LoginResponse{}, err
		}
		hash, err := s.auth.HashPassword(req.Password)
		if err != nil {
			return LoginResponse{}, err
		}
		user, err = s.repo.CreateUser(ctx, req.Username, hash)
		if err != nil {
			return LoginResponse{}, err
		}
	} else if err := s.auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		return LoginResponse{}, ErrInvalidCredentials
	}

	blob, err := s.cipher.Encrypt(req.Password, req.Scrambler)
	if err != nil {
		return LoginResponse{}, err
	}
	sessionID := s.newID()
	if err := s.sessions.Put(ctx, sessionID, session.Record{UserID: user.ID, Username: user.Username, CredentialBlob: blob}, s.sessionTTL); err != nil {
		return LoginResponse{}, err
	}

	token, err := s.auth.GenerateToken(user.ID, user.Username, sessionID)
	if err != nil {
		return LoginResponse{}, err
	}
	s.publish(contracts.EventUserLoggedIn, correlationID, &user.ID, contracts.UserLoggedInV1{AuthMethod: "password"})
	return LoginResponse{Token: token}, nil
}

// ServiceOffer pairs a logical service with the transports offered for it,
// ordered by priority.
type ServiceOffer struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Transports []TransportOffer `json:"transports"`
}

type TransportOffer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Priority int    `json:"priority"`
}

// ListOffers enumerates the services the user may reach and their transports.
func (s *Service) ListOffers(ctx context.Context, userID string) ([]ServiceOffer, error) {
	services, err := s.repo.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	offers := make([]ServiceOffer, 0, len(services))
	for _, svc := range services {
		granted, err := s.resolver.access.HasAccess(ctx, userID, svc.ID)
		if err != nil {
			return nil, err
		}
		if !granted {
			continue
		}
		offer := ServiceOffer{ID: svc.ID, Name: svc.Name}
		for _, tr := range s.registry.ListForService(svc.ID) {
			offer.Transports = append(offer.Transports, TransportOffer{ID: tr.ID, Name: tr.Name, Protocol: tr.Protocol, Priority: tr.Priority})
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// ConnectOutcome is either a ready connection descriptor or a retryable
// not-ready code.
type ConnectOutcome struct {
	Ready bool
	Code  ErrorCode
	Info  transport.ConnectionInfo
}

// Connect resolves the assignment and builds the native-client connection
// descriptor. The credential stays out of this path; native clients prompt
// on their own.
func (s *Service) Connect(ctx context.Context, claims access.Claims, serviceID, transportID, clientOS, clientIP string, validateAccess bool) (ConnectOutcome, error) {
	res, err := s.resolver.Resolve(ctx, claims.UserID, serviceID, transportID, clientOS, clientIP, validateAccess)
	if err != nil {
		return ConnectOutcome{}, err
	}
	if !res.Ready {
		return ConnectOutcome{Code: res.Code}, nil
	}
	info := s.negotiator.ConnectionInfoFor(res.Transport, res.Address, claims.Username, res.Service.Name, "")
	s.publish(contracts.EventInstanceAssigned, "", &claims.UserID, contracts.InstanceAssignedV1{InstanceID: res.Instance.ID, ServiceID: serviceID, Address: res.Address})
	return ConnectOutcome{Ready: true, Info: info}, nil
}

// ScriptOutcome carries the sealed script artifact or a retryable code.
type ScriptOutcome struct {
	Ready  bool
	Code   ErrorCode
	Script string
}

// Script resolves the assignment and renders the OS-specific connection
// script with the session credential recovered under the scrambler. The
// reported client source is recorded against the instance as a
// fire-and-forget audit annotation.
func (s *Service) Script(ctx context.Context, claims access.Claims, serviceID, transportID, scrambler, hostname, clientOS, clientIP string) (ScriptOutcome, error) {
	res, err := s.resolver.Resolve(ctx, claims.UserID, serviceID, transportID, clientOS, clientIP, true)
	if err != nil {
		return ScriptOutcome{}, err
	}
	if !res.Ready {
		return ScriptOutcome{Code: res.Code}, nil
	}

	rec, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ScriptOutcome{}, secrets.ErrDecryption
		}
		return ScriptOutcome{}, err
	}
	password, err := s.cipher.Decrypt(rec.CredentialBlob, scrambler)
	if err != nil {
		return ScriptOutcome{}, err
	}

	s.recordConnectionSource(res.Instance.ID, serviceID, clientIP, hostname, claims.UserID)

	encoded, err := s.negotiator.BuildEncodedScript(res.Transport, clientOS, transport.ScriptParams{
		Address:       res.Address,
		Username:      claims.Username,
		Password:      password,
		Domain:        res.Service.Name,
		InstanceID:    res.Instance.ID,
		ReportingHost: hostname,
	}, scrambler)
	if err != nil {
		return ScriptOutcome{}, err
	}
	return ScriptOutcome{Ready: true, Script: encoded}, nil
}

// LinkOutcome carries the addressable vdi:// link or a retryable code.
type LinkOutcome struct {
	Ready bool
	Code  ErrorCode
	URL   string
}

// Link resolves the assignment and issues a one-time ticket redeemable for
// the connection parameters.
func (s *Service) Link(ctx context.Context, claims access.Claims, serviceID, transportID, clientOS, clientIP string) (LinkOutcome, error) {
	res, err := s.resolver.Resolve(ctx, claims.UserID, serviceID, transportID, clientOS, clientIP, true)
	if err != nil {
		return LinkOutcome{}, err
	}
	if !res.Ready {
		return LinkOutcome{Code: res.Code}, nil
	}

	ticketID, err := s.tickets.Issue(ctx, tickets.Payload{
		UserID:      claims.UserID,
		ServiceID:   serviceID,
		InstanceID:  res.Instance.ID,
		TransportID: transportID,
		Address:     res.Address,
	}, s.ticketTTL)
	if err != nil {
		return LinkOutcome{}, err
	}
	s.publish(contracts.EventTicketIssued, "", &claims.UserID, contracts.TicketIssuedV1{TicketID: ticketID, InstanceID: res.Instance.ID, TransportID: transportID})
	return LinkOutcome{Ready: true, URL: fmt.Sprintf("vdi://%s/%s", s.publicHost, ticketID)}, nil
}

// RedeemTicket fetches and invalidates a ticket in one step.
func (s *Service) RedeemTicket(ctx context.Context, ticketID string) (tickets.Payload, error) {
	return s.tickets.Redeem(ctx, ticketID)
}

func (s *Service) recordConnectionSource(instanceID, serviceID, sourceIP, hostname, userID string) {
	// Audit annotation only; a failure must never fail the connection.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.repo.SetConnectionSource(ctx, instanceID, sourceIP, hostname); err != nil {
		s.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("could not record connection source")
	}
	s.publish(contracts.EventConnectionSource, "", &userID, contracts.ConnectionSourceV1{InstanceID: instanceID, SourceIP: sourceIP, Hostname: hostname})
}

func (s *Service) publish(eventType contracts.EventType, correlationID string, userID *string, payload any) {
	if s.nc == nil {
		return
	}
	subject, err := contracts.SubjectForType(eventType)
	if err != nil {
		return
	}
	raw, err := contracts.MarshalV1(s.newID(), eventType, s.now(), correlationID, userID, payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", string(eventType)).Msg("could not marshal event")
		return
	}
	msg := nats.NewMsg(subject)
	msg.Data = raw
	if correlationID != "" {
		msg.Header.Set("correlation_id", correlationID)
	}
	msg.Header.Set("content-type", "application/json")
	if err := s.nc.PublishMsg(msg); err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("could not publish event")
	}
}
