package wire

// Command-pool register offsets and control-word bit layout.
const (
	RegSchedAddrHi  = 0x00
	RegSchedAddrLo  = 0x04
	RegTCBNumber    = 0x08
	RegSchedCtrl    = 0x0C
	RegStatus       = 0x10
	RegBuildInfo    = 0x14

	CtrlPartitionShift = 19
	CtrlPoolShift      = 16
	CtrlQosShift       = 8

	CtrlCreateCmdPool   = 1 << 0
	CtrlDispatchCmdPool = 1 << 1

	BuildInfoMaxCmdPoolShift = 16
	BuildInfoMaxCmdPoolMask  = 0xF << BuildInfoMaxCmdPoolShift
)

// SchedCtrl packs the partition/pool/qos selectors and op bits into the
// TSM_CMD_SCHED_CTRL register value.
func SchedCtrl(partition, pool, qos int, create, dispatch bool) uint32 {
	v := uint32(partition)<<CtrlPartitionShift | uint32(pool)<<CtrlPoolShift | uint32(qos)<<CtrlQosShift
	if create {
		v |= CtrlCreateCmdPool
	}
	if dispatch {
		v |= CtrlDispatchCmdPool
	}
	return v
}

// MaxCmdPoolCount decodes TSM_BUILD_INFO bits 16..19 into the device's
// maximum command-pool count.
func MaxCmdPoolCount(buildInfo uint32) int {
	return int((buildInfo&BuildInfoMaxCmdPoolMask)>>BuildInfoMaxCmdPoolShift) + 1
}
