// Package particle drives the match-celebration burst: short-lived sprites
// under gravity, stored in a fixed buffer so a step allocates nothing.
package particle

// Tuning for the burst animation. Gravity is screen-space pixels per second
// squared, scaled down so confetti floats rather than plummets.
const (
	Gravity      = 980.0
	GravityScale = 0.4

	DefaultCapacity = 256
)

// Particle is one sprite. Life and TTL are in milliseconds; Alpha is derived
// from their ratio each step so rendering never sees a stale fade.
type Particle struct {
	X, Y   float64
	VX, VY float64
	Life   float64
	TTL    float64
	Size   float64
	Hue    float64
	Alpha  float64
}

// Maker fills in the variable parts of a freshly spawned particle: velocity,
// TTL, size, hue. Position, life and alpha are set by the pool. i counts
// 0..n-1 within one Spawn call so makers can fan velocities out.
type Maker func(i int) Particle

// Pool holds up to capacity live particles in a single buffer. Expired
// particles are squeezed out in place during Step; relative order of
// survivors is preserved.
type Pool struct {
	buf []Particle
	n   int
}

// NewPool allocates the buffer once. capacity below 1 means
// DefaultCapacity.
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Pool{buf: make([]Particle, capacity)}
}

// Spawn adds up to n particles at (x, y) and returns how many fit. Requests
// past capacity are clamped, never grown: a storm of matches degrades the
// animation, not the frame rate.
func (p *Pool) Spawn(x, y float64, n int, make Maker) int {
	free := len(p.buf) - p.n
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		pt := make(i)
		pt.X, pt.Y = x, y
		pt.Life = 0
		pt.Alpha = 1
		if pt.TTL <= 0 {
			pt.TTL = 1
		}
		p.buf[p.n] = pt
		p.n++
	}
	return n
}

// Step advances every particle by dtMs milliseconds: age, gravity, position,
// fade. A particle stays alive while Life <= TTL; the rest are dropped and
// the survivors compacted to the front of the buffer in one pass.
func (p *Pool) Step(dtMs float64) {
	if dtMs <= 0 {
		return
	}
	dt := dtMs / 1000.0
	write := 0
	for i := 0; i < p.n; i++ {
		pt := p.buf[i]
		pt.Life += dtMs
		if pt.Life > pt.TTL {
			continue
		}
		pt.VY += Gravity * GravityScale * dt
		pt.X += pt.VX * dt
		pt.Y += pt.VY * dt
		pt.Alpha = 1 - pt.Life/pt.TTL
		if pt.Alpha < 0 {
			pt.Alpha = 0
		}
		p.buf[write] = pt
		write++
	}
	p.n = write
}

// Live returns the live particles as a view into the buffer, valid until
// the next Spawn or Step.
func (p *Pool) Live() []Particle { return p.buf[:p.n] }

// Len is the number of live particles.
func (p *Pool) Len() int { return p.n }

// Cap is the fixed buffer size.
func (p *Pool) Cap() int { return len(p.buf) }

// Reset drops every particle without touching the buffer.
func (p *Pool) Reset() { p.n = 0 }
