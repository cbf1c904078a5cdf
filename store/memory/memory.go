// Package memory is an in-process store.Store for local runs and tests.
// One mutex covers every check-then-write so counters, balances and unique
// keys behave like their Postgres counterparts under concurrency.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSigel/pulseframelabs/backend/store"
)

type walletKey struct{ owner, viewer string }

type guessKey struct {
	session uuid.UUID
	key     string
}

type Store struct {
	mu sync.Mutex

	chat        []store.ChatRecord
	hotwords    map[string]map[string]int64
	slots       []store.SlotRequest
	guessRounds map[string]*store.GuessSession
	guesses     map[guessKey]store.Guess // by (session, viewer)
	guessValues map[guessKey]string      // (session, value) -> viewer
	battles     map[string]*store.Battle
	bets        map[guessKey]store.Bet
	giveaways   map[string]*store.Giveaway
	entrants    map[guessKey]struct{}
	wallets     map[walletKey]int64
	ledger      []store.Transaction
	features    map[string]map[string]bool
	settings    map[string]store.Settings
	conns       map[string]store.Connection

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		hotwords:    make(map[string]map[string]int64),
		guessRounds: make(map[string]*store.GuessSession),
		guesses:     make(map[guessKey]store.Guess),
		guessValues: make(map[guessKey]string),
		battles:     make(map[string]*store.Battle),
		bets:        make(map[guessKey]store.Bet),
		giveaways:   make(map[string]*store.Giveaway),
		entrants:    make(map[guessKey]struct{}),
		wallets:     make(map[walletKey]int64),
		features:    make(map[string]map[string]bool),
		settings:    make(map[string]store.Settings),
		conns:       make(map[string]store.Connection),
		now:         time.Now,
	}
}

func viewerKey(name string) string { return strings.ToLower(name) }

// --- chat relay ---

func (s *Store) AppendChat(_ context.Context, rec store.ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, rec)
	return nil
}

// ChatRecords returns a copy of the relayed messages.
func (s *Store) ChatRecords() []store.ChatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ChatRecord(nil), s.chat...)
}

// --- hotwords ---

func (s *Store) IncrementHotwords(_ context.Context, ownerID string, words []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.hotwords[ownerID]
	if counts == nil {
		counts = make(map[string]int64)
		s.hotwords[ownerID] = counts
	}
	for _, w := range words {
		counts[w]++
	}
	return nil
}

func (s *Store) HotwordCounts(_ context.Context, ownerID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.hotwords[ownerID]))
	for w, n := range s.hotwords[ownerID] {
		out[w] = n
	}
	return out, nil
}

// --- slot requests ---

func (s *Store) CreateSlotRequest(_ context.Context, req store.SlotRequest) (store.SlotRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = store.SlotPending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = s.now()
	}
	s.slots = append(s.slots, req)
	return req, nil
}

func (s *Store) ListSlotRequests(_ context.Context, ownerID string, status store.SlotStatus) ([]store.SlotRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SlotRequest
	for _, r := range s.slots {
		if r.OwnerID == ownerID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- quick guesses ---

// StartGuessSession opens a new round for the owner, replacing any previous one.
func (s *Store) StartGuessSession(ownerID string) store.GuessSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs := &store.GuessSession{ID: uuid.New(), OwnerID: ownerID, Active: true, Open: true}
	s.guessRounds[ownerID] = gs
	return *gs
}

// CloseGuessing ends the guessing window while keeping the round active.
func (s *Store) CloseGuessing(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gs := s.guessRounds[ownerID]; gs != nil {
		gs.Open = false
	}
}

func (s *Store) ActiveGuessSession(_ context.Context, ownerID string) (*store.GuessSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs := s.guessRounds[ownerID]
	if gs == nil || !gs.Active {
		return nil, nil
	}
	cp := *gs
	return &cp, nil
}

func (s *Store) GuessHolder(_ context.Context, sessionID uuid.UUID, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guessValues[guessKey{sessionID, value}], nil
}

func (s *Store) ClaimGuess(_ context.Context, g store.Guess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	viewer := viewerKey(g.ViewerName)
	if holder, ok := s.guessValues[guessKey{g.SessionID, g.Value}]; ok && viewerKey(holder) != viewer {
		return store.ErrGuessTaken
	}
	if prev, ok := s.guesses[guessKey{g.SessionID, viewer}]; ok {
		delete(s.guessValues, guessKey{g.SessionID, prev.Value})
	}
	if g.GuessedAt.IsZero() {
		g.GuessedAt = s.now()
	}
	s.guesses[guessKey{g.SessionID, viewer}] = g
	s.guessValues[guessKey{g.SessionID, g.Value}] = g.ViewerName
	return nil
}

// GuessOf returns the viewer's current guess in the session.
func (s *Store) GuessOf(sessionID uuid.UUID, viewer string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guesses[guessKey{sessionID, viewerKey(viewer)}]
	return g.Value, ok
}

// GuessCount returns the number of guess rows in the session.
func (s *Store) GuessCount(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.guesses {
		if k.session == sessionID {
			n++
		}
	}
	return n
}

// --- wallets ---

func (s *Store) Balance(_ context.Context, ownerID, viewer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[walletKey{ownerID, viewerKey(viewer)}], nil
}

func (s *Store) Credit(_ context.Context, ownerID, viewer string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(ownerID, viewer, amount), nil
}

func (s *Store) creditLocked(ownerID, viewer string, amount int64) int64 {
	k := walletKey{ownerID, viewerKey(viewer)}
	s.wallets[k] += amount
	return s.wallets[k]
}

func (s *Store) Debit(_ context.Context, ownerID, viewer string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(ownerID, viewer, amount)
}

func (s *Store) debitLocked(ownerID, viewer string, amount int64) (int64, error) {
	k := walletKey{ownerID, viewerKey(viewer)}
	if s.wallets[k] < amount {
		return s.wallets[k], store.ErrInsufficientPoints
	}
	s.wallets[k] -= amount
	return s.wallets[k], nil
}

// Ledger returns a copy of the owner's point transactions.
func (s *Store) Ledger(ownerID string) []store.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Transaction
	for _, t := range s.ledger {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out
}

// --- points battle ---

// StartBattle opens a betting round for the owner.
func (s *Store) StartBattle(ownerID string, options []store.BattleOption, minBet, maxBet int64) store.Battle {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &store.Battle{ID: uuid.New(), OwnerID: ownerID, Options: options, MinBet: minBet, MaxBet: maxBet, Open: true}
	s.battles[ownerID] = b
	return *b
}

func (s *Store) ActiveBattle(_ context.Context, ownerID string) (*store.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.battles[ownerID]
	if b == nil || !b.Open {
		return nil, nil
	}
	cp := *b
	cp.Options = append([]store.BattleOption(nil), b.Options...)
	return &cp, nil
}

func (s *Store) HasBet(_ context.Context, sessionID uuid.UUID, viewer string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bets[guessKey{sessionID, viewerKey(viewer)}]
	return ok, nil
}

func (s *Store) PlaceBet(_ context.Context, bet store.Bet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := guessKey{bet.SessionID, viewerKey(bet.ViewerName)}
	if _, ok := s.bets[k]; ok {
		return 0, store.ErrAlreadyBet
	}
	balance, err := s.debitLocked(bet.OwnerID, bet.ViewerName, bet.Amount)
	if err != nil {
		return balance, err
	}
	if bet.PlacedAt.IsZero() {
		bet.PlacedAt = s.now()
	}
	s.bets[k] = bet
	s.ledger = append(s.ledger, store.Transaction{
		OwnerID: bet.OwnerID, ViewerName: bet.ViewerName, Delta: -bet.Amount,
		Reason: store.ReasonBet, SessionID: bet.SessionID, CreatedAt: bet.PlacedAt,
	})
	return balance, nil
}

// Bets returns the bets of a session sorted by viewer.
func (s *Store) Bets(sessionID uuid.UUID) []store.Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Bet
	for k, b := range s.bets {
		if k.session == sessionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ViewerName < out[j].ViewerName })
	return out
}

// --- loyalty giveaways ---

// StartGiveaway activates a giveaway round for the owner.
func (s *Store) StartGiveaway(ownerID string) store.Giveaway {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &store.Giveaway{ID: uuid.New(), OwnerID: ownerID, Active: true}
	s.giveaways[ownerID] = g
	return *g
}

func (s *Store) ActiveGiveaway(_ context.Context, ownerID string) (*store.Giveaway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.giveaways[ownerID]
	if g == nil || !g.Active {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *Store) JoinGiveaway(_ context.Context, ownerID string, sessionID uuid.UUID, viewer string, reward int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := guessKey{sessionID, viewerKey(viewer)}
	if _, ok := s.entrants[k]; ok {
		return false, nil
	}
	s.entrants[k] = struct{}{}
	if reward > 0 {
		s.creditLocked(ownerID, viewer, reward)
		s.ledger = append(s.ledger, store.Transaction{
			OwnerID: ownerID, ViewerName: viewer, Delta: reward,
			Reason: store.ReasonLoyalty, SessionID: sessionID, CreatedAt: s.now(),
		})
	}
	return true, nil
}

// Participants returns the number of giveaway entrants.
func (s *Store) Participants(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entrants {
		if k.session == sessionID {
			n++
		}
	}
	return n
}

// --- feature toggles & settings ---

func (s *Store) LoadFeatures(_ context.Context, ownerID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.features[ownerID]))
	for k, v := range s.features[ownerID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SaveFeature(_ context.Context, ownerID, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.features[ownerID] == nil {
		s.features[ownerID] = make(map[string]bool)
	}
	s.features[ownerID][name] = enabled
	return nil
}

// PutSettings stores settings for an owner.
func (s *Store) PutSettings(ownerID string, st store.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[ownerID] = st
}

func (s *Store) LoadSettings(_ context.Context, ownerID string) (store.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.settings[ownerID]; ok {
		return st, nil
	}
	return store.DefaultSettings(), nil
}

// --- credentials ---

func (s *Store) GetConnection(_ context.Context, ownerID string) (*store.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[ownerID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) SaveConnection(_ context.Context, conn store.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.OwnerID] = conn
	return nil
}

func (s *Store) DeleteConnection(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, ownerID)
	return nil
}

func (s *Store) ListExpiring(_ context.Context, before time.Time) ([]store.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Connection
	for _, c := range s.conns {
		if c.RefreshToken != "" && !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}
