package execution

import (
	"math"

	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/planner"
)

const (
	// aggIOReserve is the buffer pool size of an aggregation: the pinned pages of the writers plus room to read.
	aggIOReserve = 10
	// UnboundedPages is the optimal request of an operator without estimates.
	UnboundedPages = math.MaxInt32
	// DefaultCachePages is the allocation used when neither the configuration nor the estimates give one.
	DefaultCachePages = 4096
)

// ResourceRequest is the page budget an operator asks for.
type ResourceRequest struct {
	Min     int
	Optimal int
}

// joinIOReserve is the buffer pool size of a join: one pinned page per child writer of every input, one page to
// read into and one to spare.
func joinIOReserve(numInputs int) int {
	return numChildren*numInputs + 2
}

// minTableBlocks is the smallest hash table: one slot block and one node block.
const minTableBlocks = 2

func joinRequest(info *HashInfo, est planner.Estimate) ResourceRequest {
	reserve := joinIOReserve(info.NumInputs)
	req := ResourceRequest{Min: reserve + minTableBlocks, Optimal: UnboundedPages}
	if est.Rows <= 0 {
		return req
	}
	keys := est.DistinctKeys
	if keys <= 0 || keys > est.Rows {
		keys = est.Rows
	}
	keyNode := int64(joinKeyNodeHeader + info.KeyDesc.BytesPerTuple())
	dataNode := int64(dataNodeHeader + info.joinShape(info.BuildInput(), nil).payloadDesc.BytesPerTuple())
	req.Optimal = optimalPages(reserve, keys, keys*keyNode+est.Rows*dataNode, req.Min)
	return req
}

func aggRequest(info *HashInfo, est planner.Estimate) ResourceRequest {
	// the writers' private tables need minTableBlocks each
	req := ResourceRequest{Min: aggIOReserve + numChildren*minTableBlocks, Optimal: UnboundedPages}
	groups := est.DistinctKeys
	if groups <= 0 {
		groups = est.Rows
	}
	if groups <= 0 {
		return req
	}
	node := int64(aggKeyNodeHeader + info.PartialDesc.BytesPerTuple())
	req.Optimal = optimalPages(aggIOReserve, groups, groups*node, req.Min)
	return req
}

func optimalPages(reserve int, keys, nodeBytes int64, floor int) int {
	blockSize := int64(common.PageSize)
	slotBlocks := (int64(SlotsNeeded(keys))*slotEntrySize + blockSize - 1) / blockSize
	// the slot array may take at most a quarter of the table
	nodeBlocks := (nodeBytes+blockSize-1)/blockSize + 1
	table := max(4*slotBlocks, slotBlocks+nodeBlocks)
	total := int64(reserve) + table
	if total > UnboundedPages {
		return UnboundedPages
	}
	return max(int(total), floor)
}

// pagesFor picks the allocation for req from the configuration: CachePages when set, otherwise the optimal
// request (DefaultCachePages when that is unbounded).
func pagesFor(req ResourceRequest, cachePages int) int {
	if cachePages > 0 {
		return cachePages
	}
	if req.Optimal >= UnboundedPages {
		return max(DefaultCachePages, req.Min)
	}
	return req.Optimal
}
