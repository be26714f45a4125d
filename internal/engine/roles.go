package engine

// Ballot is one standing nomination vote. Seq orders votes by arrival.
type Ballot struct {
	Voter  string
	Target string
	Seq    int
}

// RolePolicy derives a team's Boy and Backer from its nomination votes.
// members are the team's connected player ids in join order; ballots are
// sorted by Seq.
type RolePolicy interface {
	Assign(members []string, ballots []Ballot) (boy, backer string)
}

// PluralityPolicy makes the most-voted teammate the Boy and the runner-up the
// Backer. Ties go to the candidate whose earliest vote arrived first;
// unvoted teammates follow in join order.
type PluralityPolicy struct{}

func (PluralityPolicy) Assign(members []string, ballots []Ballot) (string, string) {
	ranked := rankCandidates(members, ballots)
	switch len(ranked) {
	case 0:
		return "", ""
	case 1:
		return ranked[0], ranked[0]
	default:
		return ranked[0], ranked[1]
	}
}

func rankCandidates(members []string, ballots []Ballot) []string {
	isMember := make(map[string]bool, len(members))
	for _, id := range members {
		isMember[id] = true
	}

	votes := map[string]int{}
	var order []string // voted candidates by first vote arrival
	for _, b := range ballots {
		if !isMember[b.Target] {
			continue
		}
		if _, ok := votes[b.Target]; !ok {
			order = append(order, b.Target)
		}
		votes[b.Target]++
	}

	// Stable insertion sort on vote count keeps first-arrival order for ties.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && votes[order[j]] > votes[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	for _, id := range members {
		if _, ok := votes[id]; !ok {
			order = append(order, id)
		}
	}
	return order
}
