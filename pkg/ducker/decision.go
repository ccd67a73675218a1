package ducker

const (
	// the primary is a YouTube Music desktop client, surfaced by its embedded chromium
	defaultPrimaryBinary = "youtube-music-desktop-app"
	defaultPrimaryName   = "Chromium"

	defaultDuckedVolume uint8 = 35
	defaultFullVolume   uint8 = 100
)

// Policy decides how the primary stream is found and what volume it gets
type Policy struct {
	PrimaryBinary string
	PrimaryName   string

	DuckedVolume uint8
	FullVolume   uint8
}

// Decision is the volume (in percent) to apply to the stream at Index
type Decision struct {
	Index  uint32
	Volume uint8
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		PrimaryBinary: defaultPrimaryBinary,
		PrimaryName:   defaultPrimaryName,
		DuckedVolume:  defaultDuckedVolume,
		FullVolume:    defaultFullVolume,
	}
}

func (p Policy) isPrimary(r StreamRecord) bool {
	return r.ApplicationBinary == p.PrimaryBinary &&
		r.ApplicationName == p.PrimaryName &&
		!r.Corked
}

// Primary returns the index of the last stream in the snapshot that matches the policy.
// When several streams match, the later one wins.
func (p Policy) Primary(snapshot Snapshot) (uint32, bool) {
	var (
		index uint32
		found bool
	)

	for _, record := range snapshot {
		if p.isPrimary(record) {
			index, found = record.Index, true
		}
	}

	return index, found
}

// Decide resolves the primary stream and computes its target volume.
// It returns false when no primary is playing, in which case nothing should be touched.
func (p Policy) Decide(snapshot Snapshot) (Decision, bool) {
	primary, ok := p.Primary(snapshot)
	if !ok {
		return Decision{}, false
	}

	for _, record := range snapshot {
		if record.Index != primary && record.audible() {
			return Decision{Index: primary, Volume: p.DuckedVolume}, true
		}
	}

	return Decision{Index: primary, Volume: p.FullVolume}, true
}
