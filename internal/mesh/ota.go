package mesh

import (
	"bytes"
	"encoding/binary"
	"log/slog"
)

// FirmwareConfig describes a firmware image the controller is offering.
type FirmwareConfig struct {
	Type    uint8
	Version uint8
	Blocks  uint16
	CRC     uint16
}

// Bytes encodes the config for byte-for-byte comparison against a
// FIRMWARE_CONFIG_RESPONSE payload.
func (c FirmwareConfig) Bytes() []byte {
	var buf [6]byte
	buf[0] = c.Type
	buf[1] = c.Version
	binary.LittleEndian.PutUint16(buf[2:4], c.Blocks)
	binary.LittleEndian.PutUint16(buf[4:6], c.CRC)
	return buf[:]
}

func decodeFirmwareConfig(payload []byte) FirmwareConfig {
	var c FirmwareConfig
	if len(payload) < 6 {
		return c
	}
	c.Type = payload[0]
	c.Version = payload[1]
	c.Blocks = binary.LittleEndian.Uint16(payload[2:4])
	c.CRC = binary.LittleEndian.Uint16(payload[4:6])
	return c
}

// firmwareSession is the state of an in-flight OTA download. Blocks are
// requested from Blocks down to 1; NextBlock==0 means every block has
// arrived.
type firmwareSession struct {
	active            bool
	nextBlock         uint16
	retriesRemaining  uint8
	lastRequestMillis uint32
}

func (n *Node) loadFirmwareConfig() error {
	buf := make([]byte, 6)
	if err := n.store.ReadAt(OffsetFirmwareConfig, buf); err != nil {
		return err
	}
	n.fwConfig = decodeFirmwareConfig(buf)
	return nil
}

func (n *Node) persistFirmwareConfig(c FirmwareConfig) error {
	n.fwConfig = c
	return n.store.WriteAt(OffsetFirmwareConfig, c.Bytes())
}

// onFirmwareConfigResponse opens a new OTA session if the controller's
// config differs from the one on file. At most one session is ever active
// (I3): a mismatch while a session is already running replaces it, the
// same as a fresh config comparison on an idle node.
func (n *Node) onFirmwareConfigResponse(payload []byte) {
	if n.flash == nil {
		n.logger.Warn("ota: config response received but no flash programmer configured")
		return
	}
	incoming := decodeFirmwareConfig(payload)
	if bytes.Equal(incoming.Bytes(), n.fwConfig.Bytes()) {
		return
	}

	if err := n.flash.Init(); err != nil {
		n.logger.Error("ota: flash init failed", slog.Any("error", err))
		n.metrics.OTAAborted()
		return
	}
	if err := n.flash.Erase(0, FlashStagingRegionSize); err != nil {
		n.logger.Error("ota: flash erase failed", slog.Any("error", err))
		n.metrics.OTAAborted()
		return
	}

	n.fwConfig = incoming
	n.firmware = firmwareSession{
		active:           true,
		nextBlock:        incoming.Blocks,
		retriesRemaining: OTARetry + 1,
	}
	n.logger.Info("ota: session opened",
		slog.Int("blocks", int(incoming.Blocks)), slog.Int("crc", int(incoming.CRC)))
}

// otaIdleTick runs in the processing loop's idle branch: when no inbound
// frame is pending, it paces outstanding block requests and gives up
// after the retry budget is exhausted.
func (n *Node) otaIdleTick() {
	if !n.firmware.active {
		return
	}
	now := n.nowMillis()
	if now-n.firmware.lastRequestMillis <= uint32(OTARetryDelay.Milliseconds()) {
		return
	}
	if n.firmware.retriesRemaining == 0 {
		n.logger.Warn("ota: session exhausted retries")
		n.firmware = firmwareSession{}
		n.metrics.OTAAborted()
		return
	}

	n.firmware.retriesRemaining--
	n.firmware.lastRequestMillis = now

	req := NewMessage(n.ctx.NodeID, n.ctx.ParentID, 0, CommandStream, TypeFirmwareRequest, false)
	block := n.firmware.nextBlock - 1 // wire-level block indices are zero-based
	if err := req.SetInt(int16(block)); err != nil {
		n.logger.Error("ota: block request payload failed", slog.Any("error", err))
		return
	}
	n.transmit(n.ctx.ParentID, req)
}

// onFirmwareResponse writes one received block to flash. When the session
// completes it runs the CRC-16 pass and either installs and reboots, or
// aborts leaving current firmware intact.
func (n *Node) onFirmwareResponse(payload []byte) {
	if !n.firmware.active {
		return
	}
	offset := FlashStartOffset + int(n.firmware.nextBlock-1)*FlashBlockSize
	if err := n.flash.WriteBlock(offset, payload); err != nil {
		n.logger.Error("ota: flash write failed", slog.Any("error", err))
		return
	}
	n.metrics.OTABlockReceived()

	n.firmware.nextBlock--
	n.firmware.retriesRemaining = OTARetry + 1

	if n.firmware.nextBlock != 0 {
		return
	}

	n.finishFirmwareSession()
}

func (n *Node) finishFirmwareSession() {
	size := int(n.fwConfig.Blocks) * FlashBlockSize
	image, err := n.flash.ReadRange(FlashStartOffset, size)
	if err != nil {
		n.logger.Error("ota: read staged image failed", slog.Any("error", err))
		n.firmware = firmwareSession{}
		n.metrics.OTAAborted()
		return
	}

	if CRC16(image) != n.fwConfig.CRC {
		n.logger.Error("ota: checksum mismatch, aborting")
		n.firmware = firmwareSession{}
		n.metrics.OTAAborted()
		return
	}

	header := make([]byte, FlashStartOffset)
	copy(header, "FLXIMG:")
	binary.BigEndian.PutUint16(header[7:9], uint16(size))
	header[9] = ':'
	if err := n.flash.WriteBlock(0, header); err != nil {
		n.logger.Error("ota: header write failed", slog.Any("error", err))
		n.firmware = firmwareSession{}
		n.metrics.OTAAborted()
		return
	}

	if err := n.persistFirmwareConfig(n.fwConfig); err != nil {
		n.logger.Error("ota: persist config failed", slog.Any("error", err))
	}

	n.firmware = firmwareSession{}
	n.metrics.OTACompleted()
	n.logger.Info("ota: install complete, rebooting")
	n.rebooter.Reboot()
}

// CancelFirmwareSession aborts any in-flight OTA session without
// installing, per the explicit-cancel lifecycle named for the firmware
// session.
func (n *Node) CancelFirmwareSession() {
	if n.firmware.active {
		n.firmware = firmwareSession{}
	}
}
