package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"tacarena.ai/internal/game/ledger"
	"tacarena.ai/internal/game/tuning"
)

const Version = 1

// FileName is the report's name inside a game directory.
const FileName = "report.json.zst"

type Header struct {
	Version   int    `json:"version"`
	GameID    string `json:"game_id"`
	Phase     string `json:"phase"`
	EndedAtMs int64  `json:"ended_at_ms"`
}

type AgentResult struct {
	AgentID string            `json:"agent_id"`
	Name    string            `json:"name"`
	Initial ledger.AgentState `json:"initial"`
	Final   ledger.AgentState `json:"final"`
	Score   float64           `json:"score"`
}

// Report is the read-only record of a finished game: configuration,
// initial deal, every settled transaction and the final scores.
type Report struct {
	Header    Header      `json:"header"`
	EndReason string      `json:"end_reason"`
	Config    tuning.Game `json:"config"`

	CreatedAtMs int64 `json:"created_at_ms"`
	StartedAtMs int64 `json:"started_at_ms,omitempty"`

	Goods        []string             `json:"goods,omitempty"`
	Agents       []AgentResult        `json:"agents"`
	Transactions []ledger.Transaction `json:"transactions"`

	InitialMoney int64              `json:"initial_money"`
	FeesBurned   int64              `json:"fees_burned"`
	LastPrices   map[string]float64 `json:"last_prices,omitempty"`
}

func (r Report) EndedAt() time.Time { return time.UnixMilli(r.Header.EndedAtMs) }

// Write stores the report as zstd: one JSON header line, then the full JSON body.
func Write(path string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(r.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(&r); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// ReadHeader reads only the first line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

func Read(path string) (Report, error) {
	var r Report
	f, err := os.Open(path)
	if err != nil {
		return r, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return r, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	// The body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return r, err
	}
	if err := json.NewDecoder(br).Decode(&r); err != nil {
		return r, fmt.Errorf("json decode: %w", err)
	}
	return r, nil
}

// Replay rebuilds the ledger from the initial deal and re-applies every
// settled transaction in sequence order.
func Replay(r Report) (*ledger.Ledger, error) {
	initial := make(map[string]ledger.AgentState, len(r.Agents))
	for _, a := range r.Agents {
		initial[a.AgentID] = a.Initial
	}
	l, err := ledger.New(r.Goods, r.Config.TxFee, initial)
	if err != nil {
		return nil, fmt.Errorf("rebuild ledger: %w", err)
	}
	txs := append([]ledger.Transaction(nil), r.Transactions...)
	sort.Slice(txs, func(i, j int) bool { return txs[i].Seq < txs[j].Seq })
	for _, tx := range txs {
		got, err := l.Apply(ledger.Transfer{
			ID:         tx.ID,
			Buyer:      tx.Buyer,
			Seller:     tx.Seller,
			Amount:     tx.Amount,
			Quantities: tx.Quantities,
		}, time.UnixMilli(tx.UnixMs))
		if err != nil {
			return nil, fmt.Errorf("replay tx seq=%d id=%s: %w", tx.Seq, tx.ID, err)
		}
		if got.Seq != tx.Seq || got.Fee != tx.Fee {
			return nil, fmt.Errorf("replay tx id=%s: seq/fee mismatch (%d/%d vs %d/%d)", tx.ID, got.Seq, got.Fee, tx.Seq, tx.Fee)
		}
	}
	return l, nil
}

// Verify replays r and checks final states, scores and burned fees.
func Verify(r Report) error {
	if len(r.Goods) == 0 {
		// Cancelled before a ledger existed.
		if len(r.Transactions) != 0 {
			return fmt.Errorf("report has transactions but no goods")
		}
		return nil
	}
	l, err := Replay(r)
	if err != nil {
		return err
	}
	if l.FeesBurned() != r.FeesBurned {
		return fmt.Errorf("fees burned: replay=%d report=%d", l.FeesBurned(), r.FeesBurned)
	}
	for _, a := range r.Agents {
		got, ok := l.State(a.AgentID)
		if !ok {
			return fmt.Errorf("agent %s missing after replay", a.AgentID)
		}
		if got.Balance != a.Final.Balance || !ledger.EqualQuantities(got.Holdings, a.Final.Holdings) {
			return fmt.Errorf("agent %s final state mismatch: replay=%+v report=%+v", a.AgentID, got, a.Final)
		}
		score := ledger.Score(got, r.Config.ZeroHoldingPenalty)
		if math.Abs(score-a.Score) > 1e-6 {
			return fmt.Errorf("agent %s score mismatch: replay=%v report=%v", a.AgentID, score, a.Score)
		}
	}
	return l.CheckInvariants()
}
