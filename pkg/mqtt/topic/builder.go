package topic

import (
	"strings"
)

// Topic segments published by the dispatcher. Subscribers depend on them.
const (
	// SuffixJobStarted: {root}/job/started/{architecture}/{board}
	SuffixJobStarted = "job/started"

	// SuffixJobFinished: {root}/job/finished/{architecture}/{board}
	SuffixJobFinished = "job/finished"

	// SuffixPowerFault: {root}/power/fault/{switch}
	SuffixPowerFault = "power/fault"

	// SuffixServerStatus: {root}/server/status, retained online/offline.
	SuffixServerStatus = "server/status"
)

// Wildcard is the MQTT single-level wildcard.
const Wildcard = "+"

// Builder builds topic names under a common root such as "boardfarm/v1".
type Builder struct {
	root string
}

func NewBuilder(root string) *Builder {
	return &Builder{root: strings.TrimSuffix(root, "/")}
}

// JobStarted is published when a job takes a board of pool.
func (b *Builder) JobStarted(pool string) string {
	return b.build(SuffixJobStarted, pool)
}

// JobFinished is published when a job gives its board back.
func (b *Builder) JobFinished(pool string) string {
	return b.build(SuffixJobFinished, pool)
}

// JobFinishedWildcard matches finished events of every pool.
func (b *Builder) JobFinishedWildcard() string {
	return b.build(SuffixJobFinished, Wildcard+"/"+Wildcard)
}

// PowerFault is published when a switch refuses to power-cycle a port.
func (b *Builder) PowerFault(switchName string) string {
	return b.build(SuffixPowerFault, switchName)
}

// PowerFaultWildcard matches faults of every switch.
func (b *Builder) PowerFaultWildcard() string {
	return b.build(SuffixPowerFault, Wildcard)
}

func (b *Builder) ServerStatus() string {
	return b.root + "/" + SuffixServerStatus
}

// build joins {root}/{suffix}/{id}.
func (b *Builder) build(suffix, id string) string {
	return b.root + "/" + suffix + "/" + id
}
