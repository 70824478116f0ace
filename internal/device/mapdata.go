package device

// PartitionMapData carries the identifiers produced while writing a
// partition table that later build stages need: the bootloader installer
// and the provisioning scripts consume the root partition identity, the
// optional slots stay nil until a build stage discovers them.
type PartitionMapData struct {
	// RootPartNum is the partition number of the root filesystem.
	RootPartNum int
	// RootPartUUID is the partition (not filesystem) UUID of the root
	// partition. On GPT maps it is a RFC-4122 UUID, on MBR maps the
	// synthetic XXXXXXXX-NN form derived from the disk signature.
	RootPartUUID string

	EfiPartNum   *int
	EfiPartUUID  *string
	BootPartNum  *int
	BootPartUUID *string
}
