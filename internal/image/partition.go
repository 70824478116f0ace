package image

import (
	"fmt"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/disk"
	"github.com/osbuild/device-image-builder/internal/disk/gpt"
	"github.com/osbuild/device-image-builder/internal/disk/mbr"
	"github.com/osbuild/device-image-builder/internal/parttype"
)

// Partition writes the partition map the device spec describes onto the
// image (or block device) at path and returns the identifiers later build
// stages need. The spec must have passed Validate.
func Partition(spec *device.DeviceSpec, path string) (*device.PartitionMapData, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q for partitioning: %w", path, err)
	}
	defer f.Close()

	switch spec.PartitionMap {
	case device.MapGPT:
		return partitionGPT(spec, f)
	case device.MapMBR:
		return partitionMBR(spec, f)
	}
	return nil, fmt.Errorf("unknown partition map type %q", string(spec.PartitionMap))
}

// fillSectors sizes a grow-to-fill partition: the whole last free range,
// keeping one sector clear so the end never collides with the backup GPT
// structures (harmless but consistent on MBR).
func fillSectors(free []disk.Range, align uint64, p *device.PartitionSpec) (uint64, error) {
	if len(free) == 0 {
		return 0, fmt.Errorf("%w for partition %d", disk.ErrNoSpace, p.Num)
	}
	last := free[len(free)-1]
	if last.Length < align {
		return 0, fmt.Errorf("%w for partition %d", disk.ErrNoSpace, p.Num)
	}
	return last.Length - 1, nil
}

func partitionGPT(spec *device.DeviceSpec, f *os.File) (*device.PartitionMapData, error) {
	sectorSize, err := disk.SectorSize(f)
	if err != nil {
		return nil, err
	}
	table, err := gpt.New(f, sectorSize, uuid.New())
	if err != nil {
		return nil, err
	}
	table.Align = disk.Mebibyte / sectorSize
	logrus.Infof("Creating a GPT partition map on %s (%d-byte sectors)", f.Name(), sectorSize)

	data := &device.PartitionMapData{}
	for i := range spec.Partitions {
		p := &spec.Partitions[i]
		free := table.FreeRanges()
		logrus.Debugf("Free ranges before partition %d: %v", p.Num, free)

		sectors := p.Size
		var start uint64
		switch {
		case sectors == 0:
			if sectors, err = fillSectors(free, table.Align, p); err != nil {
				return nil, err
			}
			start = free[len(free)-1].Start
		case p.StartSector != nil:
			start = *p.StartSector
		default:
			if start, err = table.FindFirstFit(sectors); err != nil {
				return nil, fmt.Errorf("%w for partition %d (%d sectors)", err, p.Num, sectors)
			}
		}

		typeGUID, err := parttype.ToGUID(p.Type)
		if err != nil {
			return nil, err
		}
		partGUID := uuid.New()
		if err := table.Insert(p.Num, gpt.Entry{
			TypeGUID: typeGUID,
			GUID:     partGUID,
			StartLBA: start,
			EndLBA:   start + sectors - 1,
			Name:     p.Label,
		}); err != nil {
			return nil, err
		}
		logrus.Infof("Created partition %d (%s): %s at sector %d",
			p.Num, p.Type, humanize.IBytes(sectors*sectorSize), start)

		if p.Usage == device.UsageRootfs {
			data.RootPartNum = int(p.Num)
			data.RootPartUUID = partGUID.String()
		}
	}

	if err := table.WriteProtectiveMBR(f); err != nil {
		return nil, err
	}
	if err := table.Write(f); err != nil {
		return nil, err
	}
	return data, nil
}

func partitionMBR(spec *device.DeviceSpec, f *os.File) (*device.PartitionMapData, error) {
	sectorSize64, err := disk.SectorSize(f)
	if err != nil {
		return nil, err
	}
	if sectorSize64 > math.MaxUint32 {
		// no real hardware reports this, but the table math is 32-bit
		sectorSize64 = disk.FallbackSectorSize
	}
	sectorSize := uint32(sectorSize64)
	signature := uuid.New().ID()
	table, err := mbr.New(f, sectorSize, signature)
	if err != nil {
		return nil, err
	}
	table.Align = uint32(disk.Mebibyte / sectorSize64)
	logrus.Infof("Creating an MBR partition map on %s (signature %08x)", f.Name(), signature)

	data := &device.PartitionMapData{}
	for i := range spec.Partitions {
		p := &spec.Partitions[i]
		if p.Num > mbr.NumEntries {
			return nil, fmt.Errorf("extended and logical partitions are not supported (partition %d)", p.Num)
		}
		free := table.FreeRanges()
		logrus.Debugf("Free ranges before partition %d: %v", p.Num, free)

		sectors64 := p.Size
		if sectors64 > math.MaxUint32 {
			return nil, fmt.Errorf("size of partition %d exceeds the limit of MBR (%d sectors)", p.Num, sectors64)
		}
		var start uint32
		switch {
		case sectors64 == 0:
			if sectors64, err = fillSectors(free, uint64(table.Align), p); err != nil {
				return nil, err
			}
			start = uint32(free[len(free)-1].Start)
		case p.StartSector != nil:
			if *p.StartSector > math.MaxUint32 {
				return nil, fmt.Errorf("start sector %d of partition %d exceeds the limit of MBR", *p.StartSector, p.Num)
			}
			start = uint32(*p.StartSector)
		default:
			if start, err = table.FindFirstFit(uint32(sectors64)); err != nil {
				return nil, fmt.Errorf("%w for partition %d (%d sectors)", err, p.Num, sectors64)
			}
		}
		if sectors64 < uint64(table.Align) {
			return nil, fmt.Errorf("%w for partition %d", disk.ErrNoSpace, p.Num)
		}

		typeByte, err := parttype.ToMBRByte(p.Type)
		if err != nil {
			return nil, err
		}
		var boot byte = mbr.BootInactive
		if p.Usage == device.UsageBoot {
			boot = mbr.BootActive
		}
		if err := table.Insert(p.Num, mbr.Entry{
			Boot:     boot,
			Type:     typeByte,
			StartLBA: start,
			Sectors:  uint32(sectors64),
		}); err != nil {
			return nil, err
		}
		logrus.Infof("Created partition %d (%s): %s at sector %d",
			p.Num, p.Type, humanize.IBytes(sectors64*sectorSize64), start)

		if p.Usage == device.UsageRootfs {
			data.RootPartNum = int(p.Num)
			// the PARTUUID form the kernel derives for MBR maps
			data.RootPartUUID = fmt.Sprintf("%08x-%02x", signature, p.Num)
		}
	}

	if err := table.Write(f); err != nil {
		return nil, err
	}
	return data, nil
}
