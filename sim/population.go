package sim

import (
	"fmt"
	"slices"
)

// Population owns every agent ever created plus an index of live agents.
// It is the only writer of Agent state.
type Population struct {
	agents []*Agent            // all agents, ascending id
	byID   map[AgentID]*Agent  // all agents
	live   map[AgentID]*Agent  // live agents only
	nextID AgentID
	tick   int // last committed tick
}

// NewPopulation returns an empty population whose first agent gets id 1.
func NewPopulation() *Population {
	return &Population{
		byID:   make(map[AgentID]*Agent),
		live:   make(map[AgentID]*Agent),
		nextID: 1,
	}
}

// Tick returns the last tick committed to this population (0 before any).
func (p *Population) Tick() int { return p.tick }

// LiveCount returns the number of live agents.
func (p *Population) LiveCount() int { return len(p.live) }

// TotalCount returns the number of agents ever created.
func (p *Population) TotalCount() int { return len(p.agents) }

// Get looks up any agent, live or historical.
func (p *Population) Get(id AgentID) (*Agent, bool) {
	a, ok := p.byID[id]
	return a, ok
}

// Live returns live agents in ascending id order. The slice is fresh; the
// agents are not copies.
func (p *Population) Live() []*Agent {
	out := make([]*Agent, 0, len(p.live))
	for _, a := range p.agents {
		if a.Live() {
			out = append(out, a)
		}
	}
	return out
}

// All returns every agent in ascending id order.
func (p *Population) All() []*Agent {
	return slices.Clone(p.agents)
}

// Spawn creates a live agent and assigns the next id.
func (p *Population) Spawn(a Agent) *Agent {
	a.ID = p.nextID
	p.nextID++
	a.Alive = true
	a.Emigrated = false
	a.PartnerID = NoAgent
	agent := &a
	p.agents = append(p.agents, agent)
	p.byID[agent.ID] = agent
	p.live[agent.ID] = agent
	return agent
}

// Partner links two live, single, unrelated agents.
func (p *Population) Partner(aID, bID AgentID) error {
	a, okA := p.live[aID]
	b, okB := p.live[bID]
	switch {
	case !okA || !okB:
		return fmt.Errorf("partner %d and %d: both agents must be live", aID, bID)
	case aID == bID:
		return fmt.Errorf("partner %d: cannot partner with itself", aID)
	case a.HasPartner() || b.HasPartner():
		return fmt.Errorf("partner %d and %d: already partnered", aID, bID)
	case p.Related(a, b):
		return fmt.Errorf("partner %d and %d: agents are related", aID, bID)
	}
	a.PartnerID = bID
	b.PartnerID = aID
	return nil
}

// unlink clears a's partner link and its reciprocal.
func (p *Population) unlink(a *Agent) {
	if !a.HasPartner() {
		return
	}
	if b, ok := p.byID[a.PartnerID]; ok && b.PartnerID == a.ID {
		b.PartnerID = NoAgent
	}
	a.PartnerID = NoAgent
}

// Kill marks a live agent dead and clears both partner links.
func (p *Population) Kill(id AgentID, tick int) error {
	a, ok := p.live[id]
	if !ok {
		return fmt.Errorf("kill %d: not a live agent", id)
	}
	p.unlink(a)
	a.Alive = false
	a.EndTick = tick
	delete(p.live, id)
	return nil
}

// Emigrate removes a live agent from the active population.
func (p *Population) Emigrate(id AgentID, tick int) error {
	a, ok := p.live[id]
	if !ok {
		return fmt.Errorf("emigrate %d: not a live agent", id)
	}
	p.unlink(a)
	a.Emigrated = true
	a.EndTick = tick
	delete(p.live, id)
	return nil
}

// Move switches a live agent's region.
func (p *Population) Move(id AgentID) error {
	a, ok := p.live[id]
	if !ok {
		return fmt.Errorf("move %d: not a live agent", id)
	}
	a.Region = a.Region.Other()
	return nil
}

// Birth creates a child of mother and father, recorded in both parents.
func (p *Population) Birth(motherID, fatherID AgentID, child Agent) (*Agent, error) {
	mother, okM := p.live[motherID]
	father, okF := p.live[fatherID]
	if !okM || !okF {
		return nil, fmt.Errorf("birth to %d and %d: both parents must be live", motherID, fatherID)
	}
	child.Age = 0
	child.Origin = OriginNative
	child.ParentIDs = []AgentID{motherID, fatherID}
	c := p.Spawn(child)
	mother.ChildIDs = append(mother.ChildIDs, c.ID)
	father.ChildIDs = append(father.ChildIDs, c.ID)
	return c, nil
}

// setAttributes applies lifecycle transitions to a live agent.
func (p *Population) setAttributes(id AgentID, edu Education, inc Income) {
	if a, ok := p.live[id]; ok {
		a.Education = edu
		a.Income = inc
	}
}

// ageAll increments the age of every live agent.
func (p *Population) ageAll() {
	for _, a := range p.agents {
		if a.Live() {
			a.Age++
		}
	}
}

// Related reports whether a and b are the same agent, lineal relatives, or
// siblings through a recorded parent.
func (p *Population) Related(a, b *Agent) bool {
	if a.ID == b.ID {
		return true
	}
	for _, pa := range a.ParentIDs {
		if slices.Contains(b.ParentIDs, pa) {
			return true
		}
	}
	return p.isAncestor(a.ID, b) || p.isAncestor(b.ID, a)
}

// isAncestor walks the recorded parents of x looking for id.
func (p *Population) isAncestor(id AgentID, x *Agent) bool {
	seen := make(map[AgentID]bool)
	stack := slices.Clone(x.ParentIDs)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == id {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if anc, ok := p.byID[cur]; ok {
			stack = append(stack, anc.ParentIDs...)
		}
	}
	return false
}

// Verify checks the structural invariants of the live set.
func (p *Population) Verify(tick int, phase Phase) error {
	violation := func(inv string, detail string, ids ...AgentID) error {
		return &InvariantViolation{Tick: tick, Phase: phase, Invariant: inv, AgentIDs: ids, Detail: detail}
	}
	if len(p.byID) != len(p.agents) {
		return violation(InvariantDuplicateID, fmt.Sprintf("%d agents but %d ids", len(p.agents), len(p.byID)))
	}
	liveSeen := 0
	var prev AgentID
	for _, a := range p.agents {
		if a.ID <= prev {
			return violation(InvariantDuplicateID, "ids not strictly increasing", prev, a.ID)
		}
		prev = a.ID
		if !a.Live() {
			if _, ok := p.live[a.ID]; ok {
				return violation(InvariantLiveIndex, "inactive agent in live index", a.ID)
			}
			continue
		}
		liveSeen++
		if p.live[a.ID] != a {
			return violation(InvariantLiveIndex, "live agent missing from index", a.ID)
		}
		if a.Age < 0 {
			return violation(InvariantNegativeAge, fmt.Sprintf("age %d", a.Age), a.ID)
		}
		if !a.HasPartner() {
			continue
		}
		if a.PartnerID == a.ID {
			return violation(InvariantSelfPartner, "", a.ID)
		}
		b, ok := p.live[a.PartnerID]
		if !ok {
			return violation(InvariantDanglingPartner, "partner is not live", a.ID, a.PartnerID)
		}
		if b.PartnerID != a.ID {
			return violation(InvariantAsymmetricPartner, "", a.ID, b.ID)
		}
	}
	if liveSeen != len(p.live) {
		return violation(InvariantLiveIndex, fmt.Sprintf("%d live agents but index holds %d", liveSeen, len(p.live)))
	}
	return nil
}
