package imaging

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Legacy U-Boot image header constants.
const (
	UImageMagic      = 0x27051956
	UImageHeaderSize = 64
	uImageNameLen    = 32

	OSLinux    = 5
	ArchARM    = 2
	TypeKernel = 2
	CompNone   = 0
	CompGzip   = 1
)

// UImage wraps its input in a legacy U-Boot header, as mkimage does.
type UImage struct {
	ImageName string
	Load      uint32
	Entry     uint32
	OS        uint8
	Arch      uint8
	Type      uint8
	Comp      uint8

	// Now stamps the header; defaults to time.Now.
	Now func() time.Time
}

func (u *UImage) Name() string { return "uimage" }

func (u *UImage) Apply(_ context.Context, in []byte) ([]byte, error) {
	if len(u.ImageName) > uImageNameLen {
		return nil, fmt.Errorf("image name %q longer than %d bytes", u.ImageName, uImageNameLen)
	}
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}

	out := make([]byte, UImageHeaderSize+len(in))
	h := out[:UImageHeaderSize]
	be := binary.BigEndian

	be.PutUint32(h[0:], UImageMagic)
	// h[4:8] is the header checksum, computed last over a zeroed field.
	be.PutUint32(h[8:], uint32(now().Unix()))
	be.PutUint32(h[12:], uint32(len(in)))
	be.PutUint32(h[16:], u.Load)
	be.PutUint32(h[20:], u.Entry)
	be.PutUint32(h[24:], crc32.ChecksumIEEE(in))
	h[28] = u.OS
	h[29] = u.Arch
	h[30] = u.Type
	h[31] = u.Comp
	copy(h[32:], u.ImageName)
	be.PutUint32(h[4:], crc32.ChecksumIEEE(h))

	copy(out[UImageHeaderSize:], in)
	return out, nil
}
