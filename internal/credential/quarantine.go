package credential

import "time"

// Mark quarantines the credential after an upstream rate-limit signal.
//
// Only the Available -> Quarantined transition stamps QuarantinedAt, so a
// second signal during the same quarantine does not push recovery further
// out; it just bumps ErrorCount. Mark reports whether a transition happened.
func (p *Pool) Mark(id string) bool {
	p.mu.Lock()
	e := p.lookupLocked(id)
	if e == nil {
		p.mu.Unlock()
		return false
	}
	e.errorCount++
	if e.state == Quarantined {
		p.mu.Unlock()
		return false
	}
	e.state = Quarantined
	e.quarantinedAt = p.now()
	cred := e.cred
	p.mu.Unlock()

	if p.onQuarantine != nil {
		p.onQuarantine(cred)
	}
	return true
}

// RecoverEligible returns every credential whose cooldown has elapsed to the
// Available state. There is no background timer; Select calls this when it
// finds the pool empty, so recovery happens on the next demand.
func (p *Pool) RecoverEligible() []Credential {
	p.mu.Lock()
	recovered := p.recoverLocked(p.now())
	p.mu.Unlock()

	p.fire(p.onRecover, recovered)
	return recovered
}

func (p *Pool) recoverLocked(now time.Time) []Credential {
	var recovered []Credential
	for _, e := range p.entries {
		if e.state != Quarantined || now.Sub(e.quarantinedAt) <= p.cooldown {
			continue
		}
		e.state = Available
		e.quarantinedAt = time.Time{}
		e.errorCount = 0
		recovered = append(recovered, e.cred)
	}
	return recovered
}

// RetryAfter is the time until the earliest quarantined credential becomes
// eligible for recovery, or zero when none is waiting.
func (p *Pool) RetryAfter() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryAfterLocked(p.now())
}
