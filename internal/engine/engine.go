// Package engine implements the snake-draft turn math. Everything here is a
// pure function of the league configuration and the number of completed
// picks, so callers can re-evaluate on every state change without caching.
package engine

// MaxLookaheadRounds bounds the forward scan in PicksUntilMyTurn and
// MyNextPick. Real drafts do not run past 20 rounds; a pick further out than
// that reports the zero sentinel instead.
const MaxLookaheadRounds = 20

// PositionInRound returns the 1-indexed pick-in-round for the overall pick
// numbered pickIndex (1-indexed).
func PositionInRound(pickIndex, teams int) int {
	if teams <= 0 || pickIndex <= 0 {
		return 0
	}
	return ((pickIndex - 1) % teams) + 1
}

// RoundOf returns the 1-indexed round the overall pick falls in.
func RoundOf(pickIndex, teams int) int {
	if teams <= 0 || pickIndex <= 0 {
		return 0
	}
	return (pickIndex-1)/teams + 1
}

// ExpectedSlot returns the position-in-round the user picks at in the given
// round. Odd rounds run forward, even rounds reverse (snake order).
func ExpectedSlot(round, teams, mySlot int) int {
	if round%2 == 1 {
		return mySlot
	}
	return teams - mySlot + 1
}

// IsMine reports whether the overall pick numbered pickIndex belongs to the
// user's slot.
func IsMine(pickIndex, teams, mySlot int) bool {
	if teams <= 0 || mySlot <= 0 || pickIndex <= 0 {
		return false
	}
	return PositionInRound(pickIndex, teams) == ExpectedSlot(RoundOf(pickIndex, teams), teams, mySlot)
}

// CurrentPickIndex returns the overall number of the next pick to be made,
// given how many picks are already recorded.
func CurrentPickIndex(completedPicks int) int {
	return completedPicks + 1
}

// CurrentRound returns the round of the most recently recorded pick, or 1
// before any pick has been made. Always derived from the completed count so
// it can never drift from the action log.
func CurrentRound(completedPicks, teams int) int {
	if teams <= 0 || completedPicks <= 0 {
		return 1
	}
	return RoundOf(completedPicks, teams)
}

// IsMyTurn reports whether the next pick to be made is the user's.
func IsMyTurn(teams, mySlot, completedPicks int) bool {
	return IsMine(CurrentPickIndex(completedPicks), teams, mySlot)
}

// MyNextPick returns the overall number of the user's next pick, scanning at
// most MaxLookaheadRounds rounds ahead. Returns 0 if no pick of the user's
// falls within the bound.
func MyNextPick(teams, mySlot, completedPicks int) int {
	if teams <= 0 || mySlot <= 0 {
		return 0
	}
	current := CurrentPickIndex(completedPicks)
	bound := MaxLookaheadRounds * teams
	for i := current; i <= bound; i++ {
		if IsMine(i, teams, mySlot) {
			return i
		}
	}
	return 0
}

// PicksUntilMyTurn returns how many picks happen before the user's next one
// (0 when the next pick is the user's). Returns the 0 sentinel when the
// user's next pick lies beyond the MaxLookaheadRounds bound.
func PicksUntilMyTurn(teams, mySlot, completedPicks int) int {
	next := MyNextPick(teams, mySlot, completedPicks)
	if next == 0 {
		return 0
	}
	return next - CurrentPickIndex(completedPicks)
}
