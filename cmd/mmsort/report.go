package main

import (
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/iamBelugaa/manmem/pkg/manmem"
	"github.com/iamBelugaa/manmem/pkg/options"
)

type phase struct {
	name string
	took time.Duration
}

// report renders the run summary as indented JSON.
func report(size int64, verified int64, phases []phase, st manmem.Stats) ([]byte, error) {
	timings := make(map[string]any, len(phases))
	for _, p := range phases {
		timings[p.name] = p.took.String()
	}

	doc, err := structpb.NewStruct(map[string]any{
		"input":    options.FormatBytes(uint64(size)),
		"verified": verified,
		"phases":   timings,
		"memory": map[string]any{
			"capacity":        options.FormatBytes(uint64(st.Capacity)),
			"allocated":       options.FormatBytes(uint64(st.Allocated)),
			"used":            options.FormatBytes(uint64(st.Used)),
			"segmentSize":     options.FormatBytes(uint64(st.SegmentSize)),
			"freeBlocks":      st.FreeBlocks,
			"dirtyBlocks":     st.DirtyBlocks,
			"backedBlocks":    st.BackedBlocks,
			"liveSegments":    st.LiveSegments,
			"spilledSegments": st.SpilledSegments,
			"reclaimed":       st.Reclaimed,
			"spilled":         st.Spilled,
			"loads":           st.Loads,
		},
		"disk": map[string]any{
			"writes":       st.Disk.Writes,
			"writeErrors":  st.Disk.WriteErrors,
			"bytesWritten": options.FormatBytes(uint64(st.Disk.BytesWritten)),
			"writeAvg":     st.Disk.WriteAvg.String(),
			"loads":        st.Disk.Loads,
			"loadErrors":   st.Disk.LoadErrors,
			"bytesLoaded":  options.FormatBytes(uint64(st.Disk.BytesLoaded)),
			"loadAvg":      st.Disk.LoadAvg.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(doc)
}
