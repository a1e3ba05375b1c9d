// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package membership

import (
	"context"
	"net"
	"sync"
	"time"

	gokitlog "github.com/go-kit/kit/log"

	"groupmesh.io/internal/collab"
	"groupmesh.io/internal/logging"
	"groupmesh.io/internal/netutil"
	"groupmesh.io/internal/timerwheel"
)

// allSystems/allRouters are the well-known IGMP/MLD destination
// addresses used for General Queries and reports toward all routers
// (spec §4.1, RFC 3376 §4.2.12 / RFC 3810 §5.1.14).
var (
	igmpAllSystems     = netutil.NewAddress(net.IPv4(224, 0, 0, 1))
	igmpAllRouters     = netutil.NewAddress(net.IPv4(224, 0, 0, 22))
	mldAllNodes        = netutil.NewAddress(net.ParseIP("ff02::1"))
	mldAllMLDv2Routers = netutil.NewAddress(net.ParseIP("ff02::16"))
)

// MembershipVif is the per-interface group-membership state machine:
// one exists for every downstream-facing, admin-up interface the
// engine has been told to run IGMP or MLD on (spec §3.4).
type MembershipVif struct {
	node   *MembershipNode
	logger gokitlog.Logger

	ifName      string
	ifIndex     int
	version     Version
	primaryAddr netutil.Address
	subnet      *net.IPNet

	opts      Options
	scheduler *timerwheel.Scheduler
	bus       collab.PacketBus
	members   collab.MulticastGroupMembership
	observers *ObserverRegistry
	rateLimit *logging.RateLimiter

	mu      sync.Mutex
	state   VifRunState
	groups  map[string]*GroupRecord
	querier *querier
}

// newMembershipVif constructs a vif in the Down state; Start brings it
// up.
func newMembershipVif(node *MembershipNode, ifName string, ifIndex int, version Version, primary netutil.Address, subnet *net.IPNet) *MembershipVif {
	v := &MembershipVif{
		node:        node,
		logger:      gokitlog.With(node.logger, "vif", ifName),
		ifName:      ifName,
		ifIndex:     ifIndex,
		version:     version,
		primaryAddr: primary,
		subnet:      subnet,
		opts:        DefaultOptions(),
		scheduler:   node.scheduler,
		bus:         node.bus,
		members:     node.members,
		observers:   node.observers,
		rateLimit:   logging.NewRateLimiter(30 * time.Second),
		groups:      map[string]*GroupRecord{},
		state:       Down,
	}
	v.querier = newQuerier(v)
	return v
}

// Start transitions the vif Up and begins the Startup querier cadence.
func (v *MembershipVif) Start(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Up {
		return
	}
	v.state = Up
	v.querier.start()
}

// Stop cancels every running timer and transitions the vif Down.
func (v *MembershipVif) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Down {
		return
	}
	v.state = Down
	v.querier.stop()
	for group, rec := range v.groups {
		if rec.groupTimer != nil {
			rec.groupTimer.Cancel()
		}
		for _, s := range rec.sources {
			s.timer.Cancel()
		}
		delete(v.groups, group)
	}
}

func (v *MembershipVif) family() netutil.Family { return v.version.Family() }

// lowerGroupOrSourceTimer implements the non-querier side of spec §4.1
// "Query handling" (RFC 3376 §7.2.2 / RFC 3810 §7.2.2): a Group-Specific
// or Group-and-Source-Specific Query with a nonzero Max Resp Time never
// raises a running timer, but if the timer it names is currently running
// higher than Last Member Query Count * Max Resp Time, it is lowered to
// that value. The querier itself never does this; it is the one whose
// query everyone else is reacting to.
func (v *MembershipVif) lowerGroupOrSourceTimer(msg *Message) {
	if msg.Group.IsZero() || msg.MaxRespTime <= 0 || v.querier.isQuerier() {
		return
	}
	rec, ok := v.groups[msg.Group.String()]
	if !ok {
		return
	}

	lowered := time.Duration(v.opts.LastMemberQueryCnt.Get()) * msg.MaxRespTime

	if len(msg.Sources) == 0 {
		if rec.groupTimer != nil && rec.groupTimer.Remaining() > lowered {
			rec.groupTimer.Reset(lowered)
		}
		return
	}

	for _, s := range msg.Sources {
		if sr, ok := rec.sources[s.String()]; ok && sr.timer.Remaining() > lowered {
			sr.timer.Reset(lowered)
		}
	}
}

// HandlePacket is the packet entry point of spec §4.1: length check,
// checksum, message-type dispatch, and the sanity checks of step 4
// (source must be unicast and, for the IGMP case, directly connected;
// destination must be a multicast address or this vif's own address).
func (v *MembershipVif) HandlePacket(meta collab.PacketMeta, payload []byte) {
	if !meta.Dst.IsMulticast() && !meta.Dst.Equal(v.primaryAddr) {
		v.reject(newPacketError(UnexpectedDestination, "destination %s is neither multicast nor %s", meta.Dst, v.primaryAddr))
		return
	}
	if !meta.Src.IsUnicast() {
		v.reject(newPacketError(UnexpectedSourceScope, "source %s is not unicast", meta.Src))
		return
	}
	if v.family() == netutil.IPv4 && v.subnet != nil && !netutil.InSubnet(meta.Src, v.subnet) {
		v.reject(newPacketError(UnexpectedSourceScope, "source %s not on-link for %s", meta.Src, v.ifName))
		return
	}
	if v.family() == netutil.IPv6 && !meta.Src.IsLinkLocalUnicast() {
		v.reject(newPacketError(UnexpectedSourceScope, "mld source %s is not link-local", meta.Src))
		return
	}
	if v.family() == netutil.IPv6 && v.opts.RouterAlertCheck.Get() && !meta.RouterAlert {
		v.reject(newPacketError(MissingRouterAlert, "mld packet on %s missing router alert option", v.ifName))
		return
	}

	v.decodeAndDispatch(meta, payload)
}

func (v *MembershipVif) decodeAndDispatch(meta collab.PacketMeta, payload []byte) {
	var (
		msg *Message
		err error
	)

	if v.family() == netutil.IPv4 {
		if !netutil.VerifyChecksum(payload) {
			v.reject(newPacketError(ChecksumMismatch, "igmp checksum failed on %s", v.ifName))
			return
		}
		msg, err = DecodeIGMP(payload)
	} else {
		if !netutil.VerifyChecksumWithIPv6PseudoHeader(meta.Src.IP(), meta.Dst.IP(), mldICMPv6NextHeader, payload) {
			v.reject(newPacketError(ChecksumMismatch, "mld checksum failed on %s", v.ifName))
			return
		}
		msg, err = DecodeMLD(payload)
	}

	if err != nil {
		v.reject(err)
		return
	}

	v.dispatch(meta, msg)
}

func (v *MembershipVif) reject(err error) {
	pe, ok := err.(*PacketError)
	if !ok {
		v.logger.Log("op", "HandlePacket", "error", err)
		return
	}
	RecordPacketError(v.ifName, pe.Kind)
	if v.rateLimit.Allow(pe.Kind.String(), time.Now()) {
		logging.Info(v.logger, "op", "HandlePacket", "reject", pe.Kind.String(), "detail", pe.Msg)
	}
}

func (v *MembershipVif) dispatch(meta collab.PacketMeta, msg *Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch msg.Kind {
	case KindQuery, KindMLDQuery:
		v.querier.onQueryReceived(meta.Src)

		if !v.querier.isQuerier() {
			// Adopt-from-querier (spec §4.1, RFC 3376 §8.5 note 4 / RFC
			// 3810 §9.5 note 4): a non-querier takes on the Robustness
			// Variable and Query Interval carried by the winning querier's
			// query, falling back to its own configured value whenever the
			// received field is the zero sentinel.
			if msg.QRV != 0 {
				v.opts.RobustnessVariable.Set(msg.QRV)
			} else {
				v.opts.RobustnessVariable.Reset()
			}
			if msg.QQIC != 0 {
				v.opts.QueryInterval.Set(time.Duration(netutil.DecodeQQIC(msg.QQIC)) * time.Second)
			} else {
				v.opts.QueryInterval.Reset()
			}
			if msg.MaxRespTime > 0 {
				v.opts.QueryResponseInt.Set(msg.MaxRespTime)
			}
		}

		v.lowerGroupOrSourceTimer(msg)

	case KindV1Report, KindV2Report, KindMLDV1Report:
		RecordReportReceived(v.ifName)
		v.onLegacyJoin(msg.Group)

	case KindLeave, KindMLDDone:
		RecordReportReceived(v.ifName)
		v.onLegacyLeave(msg.Group)

	case KindV3Report, KindMLDV2Report:
		RecordReportReceived(v.ifName)
		v.onV3Report(msg.Records)

	case KindOtherRouting:
		// Recognized but not acted on (spec §13).
	}
}

// onLegacyJoin handles a v1/v2 (or MLDv1) report: RFC 3376 §7.2.1
// treats this as (*, G) EXCLUDE({}) with the group timer reset to
// Group Membership Interval.
func (v *MembershipVif) onLegacyJoin(group netutil.Address) {
	rec := v.groupOrCreate(group, Exclude)
	rec.restartGroupTimer(v.groupMembershipInterval())
}

// onLegacyLeave handles an IGMPv2 Leave / MLDv1 Done: if the group
// exists and this vif is the querier, send one Group-Specific Query and
// lower the group timer to Last Member Query Time; the group is
// forgotten when that timer expires without a fresh report.
func (v *MembershipVif) onLegacyLeave(group netutil.Address) {
	rec, ok := v.groups[group.String()]
	if !ok {
		return
	}
	if !v.querier.isQuerier() {
		return
	}
	v.startLastMemberQuery(rec, nil)
}

// onV3Report folds every group record of a v3/MLDv2 report into vif
// state, creating group records on demand (spec §4.1 "Report
// handling").
func (v *MembershipVif) onV3Report(records []GroupRecordEntry) {
	robustness := v.opts.RobustnessVariable.Get()
	gmi := v.groupMembershipInterval()
	lmqt := v.lastMemberQueryTime()
	now := time.Now()

	for _, entry := range records {
		mode := Include
		if entry.Type == ModeIsExclude || entry.Type == ChangeToExclude {
			mode = Exclude
		}
		rec := v.groupOrCreate(entry.Group, mode)
		rec.applyV3Report(entry, robustness, gmi, lmqt, now)
	}
}

func (v *MembershipVif) groupOrCreate(group netutil.Address, mode FilterMode) *GroupRecord {
	key := group.String()
	if rec, ok := v.groups[key]; ok {
		return rec
	}
	rec := newGroupRecord(v, group, mode)
	v.groups[key] = rec
	RecordGroupCount(len(v.groups))
	v.notify(EventJoin, group, netutil.Zero)
	return rec
}

// forgetGroup drops a group record and notifies observers that no
// listener remains (invariant (iii)).
func (v *MembershipVif) forgetGroup(group netutil.Address) {
	key := group.String()
	rec, ok := v.groups[key]
	if !ok {
		return
	}
	if rec.groupTimer != nil {
		rec.groupTimer.Cancel()
	}
	delete(v.groups, key)
	RecordGroupCount(len(v.groups))
	v.notify(EventPrune, group, netutil.Zero)
}

// notify implements the JOIN/PRUNE notification contract of spec §4.1:
// it both fans out to in-process Observer subscribers and calls the
// upstream-routing collaborator's AddMembership/DeleteMembership RPC.
func (v *MembershipVif) notify(kind EventKind, group, source netutil.Address) {
	v.observers.Notify(Event{Kind: kind, VifIdx: v.ifIndex, Group: group, Source: source})

	ctx := context.Background()
	err := collab.WithRetry(ctx, func(ctx context.Context) error {
		if kind == EventJoin {
			return v.members.AddMembership(ctx, v.ifName, source, group)
		}
		return v.members.DeleteMembership(ctx, v.ifName, source, group)
	})
	if err != nil {
		v.logger.Log("op", "notify", "kind", kind.String(), "group", group.String(), "error", err)
	}
}

// onSourceExpire fires when a SourceRecord's timer reaches zero. In
// INCLUDE mode the source is simply forgotten and a PRUNE fires for it;
// in EXCLUDE mode a source whose timer expires moves to the "forward"
// set (no explicit per-source PRUNE, RFC 3376 §6.3 note 2).
func (v *MembershipVif) onSourceExpire(g *GroupRecord, key string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := g.sources[key]; !ok {
		return
	}
	addr := addrFromKey(key)
	delete(g.sources, key)

	if g.mode == Include {
		v.notify(EventPrune, g.group, addr)
	}
	g.pruneIfEmpty()
}

// onGroupTimerExpire fires when a group's aggregate timer reaches
// zero. In EXCLUDE mode the filter mode reverts to INCLUDE over the
// sources that still have a running timer (RFC 3376 §6.2.2); in the
// v1/v2-compatibility case with no sources at all, the group is simply
// forgotten.
func (v *MembershipVif) onGroupTimerExpire(g *GroupRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if g.mode == Exclude {
		g.mode = Include
		g.groupTimer = nil
		for key, rec := range g.sources {
			if !rec.timer.Active() {
				delete(g.sources, key)
			}
		}
	}
	g.pruneIfEmpty()
}

// startLastMemberQuery sends one Group-Specific (sources == nil) or
// Group-and-Source-Specific query and sets the relevant timer(s) to
// Last Member Query Time. No retransmission is scheduled: the query is
// sent once, not Last Member Query Count times.
func (v *MembershipVif) startLastMemberQuery(g *GroupRecord, sources []netutil.Address) {
	lmqt := v.lastMemberQueryTime()
	if sources == nil {
		g.restartGroupTimer(lmqt)
	} else {
		for _, s := range sources {
			if rec, ok := g.sources[s.String()]; ok {
				rec.timer.Reset(lmqt)
			}
		}
	}
	v.sendGroupQuery(g.group, sources)
}

func (v *MembershipVif) groupMembershipInterval() time.Duration {
	rv := time.Duration(v.opts.RobustnessVariable.Get())
	return rv*v.opts.QueryInterval.Get() + v.opts.QueryResponseInt.Get()
}

func (v *MembershipVif) lastMemberQueryTime() time.Duration {
	return time.Duration(v.opts.LastMemberQueryCnt.Get()) * v.opts.LastMemberQueryInt.Get()
}

func (v *MembershipVif) sendGeneralQuery() {
	RecordQuerySent(v.ifName)
	v.sendQuery(netutil.Zero, nil)
}

func (v *MembershipVif) sendGroupQuery(group netutil.Address, sources []netutil.Address) {
	RecordQuerySent(v.ifName)
	v.sendQuery(group, sources)
}

func (v *MembershipVif) sendQuery(group netutil.Address, sources []netutil.Address) {
	ctx := context.Background()
	robustness := v.opts.RobustnessVariable.Get()

	var payload []byte
	var dst netutil.Address
	if v.family() == netutil.IPv4 {
		dst = igmpAllSystems
		if !group.IsZero() {
			dst = group
		}
		qqic := netutil.EncodeQQIC(uint32(v.opts.QueryInterval.Get() / time.Second))
		payload = EncodeIGMPQuery(group, v.opts.QueryResponseInt.Get(), v.version == IGMPv3, false, robustness, qqic, sources)
	} else {
		dst = mldAllNodes
		if !group.IsZero() {
			dst = group
		}
		qqic := netutil.EncodeQQIC(uint32(v.opts.QueryInterval.Get() / time.Second))
		payload = EncodeMLDQuery(group, v.opts.QueryResponseInt.Get(), v.version == MLDv2, false, robustness, qqic, sources, v.primaryAddr.IP(), dst.IP())
	}

	err := collab.WithRetry(ctx, func(ctx context.Context) error {
		return v.bus.SendProtocolMessage(ctx, v.ifName, v.primaryAddr, dst, 1, -1, true, payload)
	})
	if err != nil {
		v.logger.Log("op", "sendQuery", "error", err)
	}
}

func addrFromKey(key string) netutil.Address {
	return netutil.NewAddress(net.ParseIP(key))
}
