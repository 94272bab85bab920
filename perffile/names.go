// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"fmt"
	"strings"
)

// bitString formats the set bits of x using names[i] for bit i, joined
// by "|". Bits without a name are shown in hex.
func bitString(x uint64, names []string) string {
	if x == 0 {
		return "0"
	}
	var parts []string
	for i := 0; i < 64 && x != 0; i++ {
		if x&(1<<i) == 0 {
			continue
		}
		x &^= 1 << i
		if i < len(names) && names[i] != "" {
			parts = append(parts, names[i])
		} else {
			parts = append(parts, fmt.Sprintf("%#x", uint64(1)<<i))
		}
	}
	return strings.Join(parts, "|")
}

func enumString(typ string, x uint64, names []string) string {
	if x < uint64(len(names)) && names[x] != "" {
		return names[x]
	}
	return fmt.Sprintf("%s(%d)", typ, x)
}

var eventTypeNames = []string{"Hardware", "Software", "Tracepoint", "HWCache", "Raw", "Breakpoint"}

func (t EventType) String() string {
	return enumString("EventType", uint64(t), eventTypeNames)
}

var sampleFormatNames = []string{
	"IP", "TID", "Time", "Addr", "Read", "Callchain", "ID", "CPU",
	"Period", "StreamID", "Raw", "BranchStack", "RegsUser", "StackUser",
	"Weight", "DataSrc", "Identifier", "Transaction", "RegsIntr",
	"PhysAddr", "Aux", "CGroup", "DataPageSize", "CodePageSize",
	"WeightStruct",
}

func (s SampleFormat) String() string {
	return bitString(uint64(s), sampleFormatNames)
}

var readFormatNames = []string{"TotalTimeEnabled", "TotalTimeRunning", "ID", "Group", "Lost"}

func (r ReadFormat) String() string {
	return bitString(uint64(r), readFormatNames)
}

var eventFlagNames = []string{
	"Disabled", "Inherit", "Pinned", "Exclusive", "ExcludeUser",
	"ExcludeKernel", "ExcludeHypervisor", "ExcludeIdle", "Mmap", "Comm",
	"Freq", "InheritStat", "EnableOnExec", "Task", "WakeupWatermark",
	"", "", "MmapData", "SampleIDAll", "ExcludeHost", "ExcludeGuest",
	"ExcludeCallchainKernel", "ExcludeCallchainUser", "MmapInodeData",
	"CommExec", "ClockID", "ContextSwitch", "WriteBackward", "Namespaces",
	"Ksymbol", "BPFEvent", "AuxOutput", "CGroup", "TextPoke", "BuildID",
	"InheritThread", "RemoveOnExec", "Sigtrap",
}

func (f EventFlags) String() string {
	return bitString(uint64(f), eventFlagNames)
}

var branchSampleNames = []string{
	"User", "Kernel", "HV", "Any", "AnyCall", "AnyReturn", "IndCall",
	"AbortTX", "InTX", "NoTX", "Cond", "CallStack", "IndJump", "Call",
	"NoFlags", "NoCycles", "TypeSave", "HWIndex", "PrivSave",
}

func (b BranchSampleType) String() string {
	return bitString(uint64(b), branchSampleNames)
}

var recordTypeNames = map[RecordType]string{
	RecordTypeMmap:                "MMAP",
	RecordTypeLost:                "LOST",
	RecordTypeComm:                "COMM",
	RecordTypeExit:                "EXIT",
	RecordTypeThrottle:            "THROTTLE",
	RecordTypeUnthrottle:          "UNTHROTTLE",
	RecordTypeFork:                "FORK",
	RecordTypeRead:                "READ",
	RecordTypeSample:              "SAMPLE",
	RecordTypeMmap2:               "MMAP2",
	RecordTypeAux:                 "AUX",
	RecordTypeItraceStart:         "ITRACE_START",
	RecordTypeLostSamples:         "LOST_SAMPLES",
	RecordTypeSwitch:              "SWITCH",
	RecordTypeSwitchCPUWide:       "SWITCH_CPU_WIDE",
	RecordTypeNamespaces:          "NAMESPACES",
	RecordTypeKsymbol:             "KSYMBOL",
	RecordTypeBPFEvent:            "BPF_EVENT",
	RecordTypeCGroup:              "CGROUP",
	RecordTypeTextPoke:            "TEXT_POKE",
	RecordTypeAuxOutputHardwareID: "AUX_OUTPUT_HW_ID",
	RecordTypeHeaderAttr:          "HEADER_ATTR",
	recordTypeEventType:           "HEADER_EVENT_TYPE",
	recordTypeTracingData:         "HEADER_TRACING_DATA",
	RecordTypeBuildID:             "HEADER_BUILD_ID",
	RecordTypeFinishedRound:       "FINISHED_ROUND",
	RecordTypeIDIndex:             "ID_INDEX",
	RecordTypeAuxtraceInfo:        "AUXTRACE_INFO",
	RecordTypeAuxtrace:            "AUXTRACE",
	RecordTypeAuxtraceError:       "AUXTRACE_ERROR",
	RecordTypeThreadMap:           "THREAD_MAP",
	RecordTypeCPUMap:              "CPU_MAP",
	recordTypeStatConfig:          "STAT_CONFIG",
	recordTypeStat:                "STAT",
	recordTypeStatRound:           "STAT_ROUND",
	recordTypeEventUpdate:         "EVENT_UPDATE",
	RecordTypeTimeConv:            "TIME_CONV",
	RecordTypeHeaderFeature:       "HEADER_FEATURE",
	RecordTypeCompressed:          "COMPRESSED",
}

// String returns the perf tool's name for t without the PERF_RECORD_
// prefix, such as "MMAP2" or "AUXTRACE".
func (t RecordType) String() string {
	if s, ok := recordTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RecordType(%d)", uint32(t))
}

var featureNames = []string{
	"RESERVED", "TRACING_DATA", "BUILD_ID", "HOSTNAME", "OSRELEASE",
	"VERSION", "ARCH", "NRCPUS", "CPUDESC", "CPUID", "TOTAL_MEM",
	"CMDLINE", "EVENT_DESC", "CPU_TOPOLOGY", "NUMA_TOPOLOGY",
	"BRANCH_STACK", "PMU_MAPPINGS", "GROUP_DESC", "AUXTRACE", "STAT",
	"CACHE", "SAMPLE_TIME", "MEM_TOPOLOGY", "CLOCKID", "DIR_FORMAT",
	"BPF_PROG_INFO", "BPF_BTF", "COMPRESSED", "CPU_PMU_CAPS",
	"CLOCK_DATA",
}

// String returns the perf tool's name for f without the HEADER_
// prefix, such as "HOSTNAME".
func (f Feature) String() string {
	return enumString("Feature", uint64(f), featureNames)
}

var cpuModeNames = []string{"Unknown", "Kernel", "User", "Hypervisor", "GuestKernel", "GuestUser"}

func (m CPUMode) String() string {
	return enumString("CPUMode", uint64(m), cpuModeNames)
}

var sampleRegsABINames = []string{"None", "32", "64"}

func (a SampleRegsABI) String() string {
	return enumString("SampleRegsABI", uint64(a), sampleRegsABINames)
}

var auxtraceTypeNames = []string{"Unknown", "IntelPT", "IntelBTS", "CSETM", "ARMSPE", "S390CPUMSF"}

func (t AuxtraceType) String() string {
	return enumString("AuxtraceType", uint64(t), auxtraceTypeNames)
}

var branchFlagNames = []string{"Mispredicted", "Predicted", "InTransaction", "Abort"}

func (f BranchFlags) String() string {
	return bitString(uint64(f), branchFlagNames)
}

var branchTypeNames = []string{
	"Unknown", "Cond", "Uncond", "Ind", "Call", "IndCall", "Ret",
	"Syscall", "Sysret", "CondCall", "CondRet", "Eret", "Irq",
}

func (t BranchType) String() string {
	return enumString("BranchType", uint64(t), branchTypeNames)
}

var auxFlagNames = []string{"Truncated", "Overwrite", "Partial", "Collision"}

func (f AuxFlags) String() string {
	return bitString(uint64(f), auxFlagNames)
}
