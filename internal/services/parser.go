// Package services – message parsing
//
// This file turns raw chat text into structured order data: the diamond
// quantity, the player id and the intent of admin replies. All digit
// handling goes through domain.FoldDigits first so Bengali numerals behave
// exactly like ASCII ones.
//
// Quantity extraction tries signals in strict priority order and stops at
// the first hit:
//
//  1. a number adjacent to the 💎 emoji ("💎500", "500💎", "💎 500")
//  2. a number adjacent to a diamond keyword ("500 diamond", "dia 500")
//  3. a line that is nothing but a number (conventionally the second line)
//  4. any standalone number of two or more digits
//
// Numbers above 1,000,000 are treated as noise (phone numbers, game ids)
// and never considered. Hits above the 100,000 per-order cap are real
// quantities but invalid; they surface as ErrInvalidQuantity so the caller
// can tell the user instead of silently dropping the message.
package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dtopup/go-topup-backend/internal/domain"
)

// MaxDiamonds caps a single order.
const MaxDiamonds = 100000

// noiseThreshold marks numbers too large to plausibly be a quantity.
const noiseThreshold = 1000000

var (
	emojiNumberRe   = regexp.MustCompile(`💎\s*(\d+)|(\d+)\s*💎`)
	keywordNumberRe = regexp.MustCompile(`(?i)(?:diamond|dia|dias|diamonds)\s*[:\-]?\s*(\d+)|(\d+)\s*(?:diamond|dia|dias|diamonds)`)
	bareNumberRe    = regexp.MustCompile(`\d{2,}`)
	orderIDRe       = regexp.MustCompile(`\d{12,}`)
)

// approvalWords end the processing stage when an admin replies with one.
var approvalWords = []string{
	"done", "ok", "approve", "approved", "complete", "completed",
	"finished", "ready",
	"হয়েছে", "দিয়েছি", "ওকে", "হইছে",
}

// correctionWords mark a user or admin reply as a cancellation request.
var correctionWords = []string{
	"vul", "bhul", "mistake", "cancel", "wrong", "remove", "stop", "delete",
	"ভুল", "বাতিল",
}

// OrderRequest is the parsed form of an order submission message.
type OrderRequest struct {
	PlayerID string
	Diamonds int
}

// ParseOrderMessage extracts the player id and diamond quantity from a raw
// submission. The first line carries the player id; the quantity may be
// anywhere in the message. Returns ErrOrderNotFound when no quantity signal
// exists (the message is not an order) and ErrInvalidQuantity when one
// exists but breaks the 1..100000 bound.
func ParseOrderMessage(text string) (*OrderRequest, error) {
	folded := domain.FoldDigits(text)
	qty, err := extractDiamonds(folded)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(folded), "\n")
	playerID := strings.TrimSpace(lines[0])
	// A first line that is just the quantity signal means the sender
	// skipped the id.
	if isQuantityLine(playerID) {
		playerID = ""
	}
	return &OrderRequest{PlayerID: playerID, Diamonds: qty}, nil
}

var quantityTokenRe = regexp.MustCompile(`(?i)💎|diamonds?|dias?|\d+`)

// isQuantityLine reports whether the line carries nothing but quantity
// tokens (numbers, the emoji, diamond keywords) and separators.
func isQuantityLine(line string) bool {
	rest := quantityTokenRe.ReplaceAllString(line, "")
	rest = strings.TrimFunc(rest, func(r rune) bool {
		return r == ' ' || r == ':' || r == '-' || r == '.' || r == ','
	})
	return rest == ""
}

// ExtractDiamonds returns the diamond quantity in text, or false when the
// text carries no quantity signal at all. Invalid quantities (over the cap)
// also report false here; use ParseOrderMessage to distinguish them.
func ExtractDiamonds(text string) (int, bool) {
	n, err := extractDiamonds(domain.FoldDigits(text))
	return n, err == nil
}

func extractDiamonds(folded string) (int, error) {
	if m := emojiNumberRe.FindStringSubmatch(folded); m != nil {
		return checkQuantity(firstGroup(m))
	}
	if m := keywordNumberRe.FindStringSubmatch(folded); m != nil {
		return checkQuantity(firstGroup(m))
	}
	for _, line := range strings.Split(folded, "\n")[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n, err := strconv.Atoi(line); err == nil {
			if n >= noiseThreshold {
				continue
			}
			return checkQuantity(line)
		}
	}
	for _, raw := range bareNumberRe.FindAllString(folded, -1) {
		n, err := strconv.Atoi(raw)
		if err != nil || n >= noiseThreshold {
			continue
		}
		return checkQuantity(raw)
	}
	return 0, ErrOrderNotFound
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func checkQuantity(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrOrderNotFound
	}
	if n < 1 || n > MaxDiamonds {
		return 0, ErrInvalidQuantity
	}
	return n, nil
}

// ExtractOrderID finds an order id embedded in reply text. Order ids are
// millisecond timestamps, so any 12+ digit run qualifies; shorter numbers
// are diamond quantities or player ids and never match.
func ExtractOrderID(text string) (int64, bool) {
	raw := orderIDRe.FindString(domain.FoldDigits(text))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsApproval reports whether an admin reply means "this order is done".
func IsApproval(text string) bool {
	return containsWord(text, approvalWords)
}

// IsCorrection reports whether a reply asks for the order to be cancelled
// or removed.
func IsCorrection(text string) bool {
	return containsWord(text, correctionWords)
}

func containsWord(text string, words []string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return false
	}
	for _, w := range words {
		if lowered == w {
			return true
		}
	}
	// Short replies may carry trailing punctuation or emoji.
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '.' || r == ',' || r == '!' || r == '?'
	})
	if len(fields) > 4 {
		// Long prose is conversation, not a command.
		return false
	}
	for _, f := range fields {
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}
