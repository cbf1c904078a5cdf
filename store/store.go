// Package store defines the records the bot persists and the ports it persists them through.
//
// Every key is scoped by owner id (the streamer the bot instance belongs to).
// Implementations must make counters and balances atomic at the storage layer:
// an increment or conditional debit is a single statement (or transaction),
// never a read followed by a separate write from application code.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("store: not found")
	ErrGuessTaken         = errors.New("store: guess value already held by another viewer")
	ErrAlreadyBet         = errors.New("store: viewer already placed a bet in this session")
	ErrInsufficientPoints = errors.New("store: not enough points")
)

// ChatRecord is the derived row the chat relay persists for each message.
type ChatRecord struct {
	OwnerID     string
	Channel     string
	DisplayName string
	Role        string
	Text        string
	ReceivedAt  time.Time
}

type SlotStatus string

const (
	SlotPending   SlotStatus = "pending"
	SlotFulfilled SlotStatus = "fulfilled"
)

type SlotRequest struct {
	ID          uuid.UUID
	OwnerID     string
	ViewerName  string
	SlotName    string
	Status      SlotStatus
	RequestedAt time.Time
}

// GuessSession is a quick-guess round. Open is false once the guessing window closed.
type GuessSession struct {
	ID      uuid.UUID
	OwnerID string
	Active  bool
	Open    bool
}

type Guess struct {
	SessionID  uuid.UUID
	OwnerID    string
	ViewerName string
	Value      string
	GuessedAt  time.Time
}

type BattleOption struct {
	Keyword string `json:"keyword"`
	Label   string `json:"label"`
}

// Battle is a points-battle betting round.
type Battle struct {
	ID      uuid.UUID
	OwnerID string
	Options []BattleOption
	MinBet  int64
	MaxBet  int64
	Open    bool
}

type Bet struct {
	SessionID   uuid.UUID
	OwnerID     string
	ViewerName  string
	OptionIndex int
	Amount      int64
	PlacedAt    time.Time
}

type Giveaway struct {
	ID      uuid.UUID
	OwnerID string
	Active  bool
}

// Transaction is a points ledger row.
type Transaction struct {
	OwnerID    string
	ViewerName string
	Delta      int64
	Reason     string
	SessionID  uuid.UUID
	CreatedAt  time.Time
}

const (
	ReasonLoyalty = "loyalty"
	ReasonBet     = "bet"
)

// Connection is the stored chat credential row of one owner.
type Connection struct {
	OwnerID        string
	AccessToken    string
	RefreshToken   string
	ChannelName    string
	ExternalUserID string
	BotLogin       string
	Scope          string
	ExpiresAt      time.Time
}

// Settings are the per-owner knobs of the feature handlers.
type Settings struct {
	ExcludedHotwords []string
	GuessCommands    []string
	LoyaltyKeyword   string
	LoyaltyReward    int64
}

// DefaultSettings is used when an owner never saved settings.
func DefaultSettings() Settings {
	return Settings{
		GuessCommands:  []string{"!guess"},
		LoyaltyKeyword: "!join",
		LoyaltyReward:  10,
	}
}

type ChatLog interface {
	AppendChat(ctx context.Context, rec ChatRecord) error
}

type Hotwords interface {
	// IncrementHotwords adds exactly one to each word's counter.
	IncrementHotwords(ctx context.Context, ownerID string, words []string) error
	HotwordCounts(ctx context.Context, ownerID string) (map[string]int64, error)
}

type SlotRequests interface {
	CreateSlotRequest(ctx context.Context, req SlotRequest) (SlotRequest, error)
	ListSlotRequests(ctx context.Context, ownerID string, status SlotStatus) ([]SlotRequest, error)
}

type Guesses interface {
	// ActiveGuessSession returns nil when the owner has no active round.
	ActiveGuessSession(ctx context.Context, ownerID string) (*GuessSession, error)
	// GuessHolder returns the viewer holding value in the session, or "".
	GuessHolder(ctx context.Context, sessionID uuid.UUID, value string) (string, error)
	// ClaimGuess inserts or replaces the viewer's guess; ErrGuessTaken when another viewer holds the value.
	ClaimGuess(ctx context.Context, g Guess) error
}

type Wallets interface {
	Balance(ctx context.Context, ownerID, viewer string) (int64, error)
	// Credit adds amount, creating the wallet when absent, and returns the new balance.
	Credit(ctx context.Context, ownerID, viewer string, amount int64) (int64, error)
	// Debit subtracts amount only when the balance covers it; ErrInsufficientPoints otherwise.
	Debit(ctx context.Context, ownerID, viewer string, amount int64) (int64, error)
}

type Battles interface {
	ActiveBattle(ctx context.Context, ownerID string) (*Battle, error)
	HasBet(ctx context.Context, sessionID uuid.UUID, viewer string) (bool, error)
	// PlaceBet records the bet, debits the wallet and writes the ledger row as one unit.
	// It returns the remaining balance, ErrAlreadyBet or ErrInsufficientPoints.
	PlaceBet(ctx context.Context, bet Bet) (int64, error)
}

type Giveaways interface {
	ActiveGiveaway(ctx context.Context, ownerID string) (*Giveaway, error)
	// JoinGiveaway adds the participant and credits reward once; joined is false for repeats.
	JoinGiveaway(ctx context.Context, ownerID string, sessionID uuid.UUID, viewer string, reward int64) (joined bool, err error)
}

type Features interface {
	LoadFeatures(ctx context.Context, ownerID string) (map[string]bool, error)
	SaveFeature(ctx context.Context, ownerID, name string, enabled bool) error
}

type SettingsStore interface {
	// LoadSettings returns DefaultSettings when the owner has none stored.
	LoadSettings(ctx context.Context, ownerID string) (Settings, error)
}

type Connections interface {
	// GetConnection returns nil when the owner never connected an account.
	GetConnection(ctx context.Context, ownerID string) (*Connection, error)
	SaveConnection(ctx context.Context, conn Connection) error
	DeleteConnection(ctx context.Context, ownerID string) error
	// ListExpiring returns rows with a refresh token expiring before the given time.
	ListExpiring(ctx context.Context, before time.Time) ([]Connection, error)
}

// Store is everything the bot needs from persistence.
type Store interface {
	ChatLog
	Hotwords
	SlotRequests
	Guesses
	Wallets
	Battles
	Giveaways
	Features
	SettingsStore
	Connections
}
