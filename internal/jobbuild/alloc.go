package jobbuild

import (
	"github.com/npu31/umd/internal/constants"
	"github.com/npu31/umd/internal/errs"
	"github.com/npu31/umd/internal/graph"
	"github.com/npu31/umd/internal/memmgr"
	"github.com/npu31/umd/internal/wire"
)

func alignUp(v uint32) uint64 {
	page := uint64(constants.PageSize)
	n := uint64(v)
	return (n + page - 1) / page * page
}

// reusePlanEntry is one reuse section's place within the centralized
// buffer or its own scatter allocation.
type reusePlanEntry struct {
	key    reuseKey
	sd     wire.SectionType
	size   uint64
	pinned bool
	region int
}

// allocationPlan collects every reuse/private section that needs a
// buffer, split into the ones eligible for centralized placement and the
// ones that must be scattered (pinned to a region through
// Config.PinnedSections). GM-backed sections get no placement of their own.
type allocationPlan struct {
	centralReuse []reusePlanEntry
	scatterReuse []reusePlanEntry

	// privOffsets[i] is subgraph i's offset within the shared private
	// buffer, valid only when centralized private allocation succeeds.
	privOffsets  []uint64
	privSizes    []uint64
	privTotal    uint64
}

// globalReuseSections lists every reuse section across every BSS bucket in
// a fixed order, giving each one a stable global index used by
// Config.PinnedSections and Config.SegMMUTags.
func globalReuseSections(g *graph.Graph) []reuseKey {
	var keys []reuseKey
	for bssIdx, bss := range g.BSSList {
		for secID := range bss.ReuseSections {
			keys = append(keys, reuseKey{BSSIdx: bssIdx, SectionID: secID})
		}
	}
	return keys
}

func buildAllocationPlan(g *graph.Graph, cfg Config) allocationPlan {
	plan := allocationPlan{}

	for globalSectionIdx, key := range globalReuseSections(g) {
		bss := g.BSSList[key.BSSIdx]
		sd := bss.ReuseSections[key.SectionID]
		entry := reusePlanEntry{
			key:  key,
			sd:   sd.Type,
			size: alignUp(sd.Size),
		}
		if region, ok := cfg.PinnedSections[globalSectionIdx]; ok {
			entry.pinned = true
			entry.region = region
			plan.scatterReuse = append(plan.scatterReuse, entry)
		} else {
			plan.centralReuse = append(plan.centralReuse, entry)
		}
	}

	plan.privOffsets = make([]uint64, len(g.Subgraphs))
	plan.privSizes = make([]uint64, len(g.Subgraphs))
	var chainOffset uint64
	for i, sg := range g.Subgraphs {
		plan.privOffsets[i] = chainOffset
		size := alignUp(sg.PrivateDataSize)
		plan.privSizes[i] = size
		chainOffset += size
		if chainOffset > plan.privTotal {
			plan.privTotal = chainOffset
		}
		if sg.PrecursorCnt == int32(graph.PrecursorAll) {
			chainOffset = 0
		}
	}

	return plan
}

// allocate tries centralized placement first, falls back to scatter for
// the whole job on failure, and always scatter-allocates pinned sections
// regardless of which policy wins for the rest.
func (j *Job) allocate(rs *releaseStack) error {
	plan := buildAllocationPlan(j.graph, j.cfg)
	j.reuseBufs = map[reuseKey]*memmgr.Buffer{}
	j.privBufs = make([]*memmgr.Buffer, len(j.graph.Subgraphs))
	j.stackBufs = make([]*memmgr.Buffer, len(j.graph.Subgraphs))
	j.profileBufs = make([]*memmgr.Buffer, len(j.graph.Subgraphs))
	j.printfBufs = make([]*memmgr.Buffer, len(j.graph.Subgraphs))

	if err := j.allocateScattered(plan.scatterReuse, rs); err != nil {
		return err
	}

	if err := j.allocateStacks(rs); err != nil {
		return err
	}

	if err := j.allocateAuxBuffers(rs); err != nil {
		return err
	}

	if err := j.allocateCentralized(plan, rs); err == nil {
		return nil
	}

	return j.allocateFallbackScatter(plan, rs)
}

// allocateStacks gives every subgraph its own scratch stack, sized and
// aligned from its BSS bucket's header.
func (j *Job) allocateStacks(rs *releaseStack) error {
	for i, sg := range j.graph.Subgraphs {
		bss := j.graph.BSSList[sg.BSSIdx]
		if bss.StackSize == 0 {
			continue
		}
		buf, err := j.mm.Malloc(uint64(bss.StackSize), bss.StackAlignBytes, "stack", -1)
		if err != nil {
			return errs.Wrap("jobbuild.allocateStacks", err)
		}
		rs.push(func() { j.mm.Free(buf) })
		j.stackBufs[i] = buf
	}
	return nil
}

// allocateAuxBuffers gives every subgraph its requested profiler/printf
// scratch buffers.
func (j *Job) allocateAuxBuffers(rs *releaseStack) error {
	for i, sg := range j.graph.Subgraphs {
		if sg.ProfilerBufSize > 0 {
			buf, err := j.mm.Malloc(alignUp(sg.ProfilerBufSize), 0, "profiler", -1)
			if err != nil {
				return errs.Wrap("jobbuild.allocateAuxBuffers", err)
			}
			rs.push(func() { j.mm.Free(buf) })
			j.profileBufs[i] = buf
		}
		if sg.PrintfifoSize > 0 {
			buf, err := j.mm.Malloc(alignUp(sg.PrintfifoSize), 0, "printf", -1)
			if err != nil {
				return errs.Wrap("jobbuild.allocateAuxBuffers", err)
			}
			rs.push(func() { j.mm.Free(buf) })
			j.printfBufs[i] = buf
		}
	}
	return nil
}

func (j *Job) allocateScattered(entries []reusePlanEntry, rs *releaseStack) error {
	for _, e := range entries {
		region := e.region
		buf, err := j.mm.Malloc(e.size, 0, "reuse.pinned", region)
		if err != nil {
			return errs.Wrap("jobbuild.allocate", err)
		}
		rs.push(func() { j.mm.Free(buf) })
		j.reuseBufs[e.key] = buf
	}
	return nil
}

func (j *Job) allocateCentralized(plan allocationPlan, rs *releaseStack) error {
	var totalReuse uint64
	offsets := make([]uint64, len(plan.centralReuse))
	for i, e := range plan.centralReuse {
		offsets[i] = totalReuse
		totalReuse += e.size
	}

	if totalReuse > 0 {
		buf, err := j.mm.Malloc(totalReuse, 0, "job.reuse", -1)
		if err != nil {
			return errs.Wrap("jobbuild.allocateCentralized", err)
		}
		j.centralizedReuse = buf
		rs.push(func() { j.mm.Free(buf) })
		for i, e := range plan.centralReuse {
			j.reuseBufs[e.key] = buf.View(offsets[i], e.size, "reuse")
		}
	}

	if plan.privTotal > 0 {
		buf, err := j.mm.Malloc(plan.privTotal, 0, "job.priv", -1)
		if err != nil {
			if j.centralizedReuse != nil {
				rs.pop()
				j.mm.Free(j.centralizedReuse)
				j.centralizedReuse = nil
				for _, e := range plan.centralReuse {
					delete(j.reuseBufs, e.key)
				}
			}
			return errs.Wrap("jobbuild.allocateCentralized", err)
		}
		j.centralizedPriv = buf
		rs.push(func() { j.mm.Free(buf) })
		for i := range j.graph.Subgraphs {
			if plan.privSizes[i] == 0 {
				continue
			}
			j.privBufs[i] = buf.View(plan.privOffsets[i], plan.privSizes[i], "priv")
		}
	}

	return nil
}

// allocateFallbackScatter allocates every centralized-eligible section
// individually. Reached when the combined centralized buffers don't fit.
func (j *Job) allocateFallbackScatter(plan allocationPlan, rs *releaseStack) error {
	for _, e := range plan.centralReuse {
		buf, err := j.mm.Malloc(e.size, 0, "reuse.scatter", -1)
		if err != nil {
			return errs.Wrap("jobbuild.allocateFallbackScatter", err)
		}
		rs.push(func() { j.mm.Free(buf) })
		j.reuseBufs[e.key] = buf
	}
	for i, sg := range j.graph.Subgraphs {
		if sg.PrivateDataSize == 0 {
			continue
		}
		buf, err := j.mm.Malloc(alignUp(sg.PrivateDataSize), 0, "priv.scatter", -1)
		if err != nil {
			return errs.Wrap("jobbuild.allocateFallbackScatter", err)
		}
		rs.push(func() { j.mm.Free(buf) })
		j.privBufs[i] = buf
	}
	return nil
}
