package protocol

// Packet geometry. Every exchange with the device is a fixed 64-byte frame:
//
//	[LEN][CMD][PAYLOAD...]
//
// where LEN is the payload length and the remaining bytes are don't-care.
const (
	// PacketSize is the fixed USB HID frame size in bytes
	PacketSize = 64

	// LenFieldIndex is the offset of the payload length byte
	LenFieldIndex = 0x00

	// CmdFieldIndex is the offset of the command code byte
	CmdFieldIndex = 0x01

	// PayloadFieldIndex is the offset of the first payload byte
	PayloadFieldIndex = 0x02

	// MaxPayloadSize is the maximum payload length per frame
	MaxPayloadSize = PacketSize - PayloadFieldIndex
)

// Field size limits enforced by the device firmware.
const (
	// MaxServiceLength is the maximum service string length in bytes
	MaxServiceLength = 121

	// MaxLoginLength is the maximum login string length in bytes
	MaxLoginLength = 63

	// MaxDescriptionLength is the maximum description string length in bytes
	MaxDescriptionLength = 24

	// NodeSize is the size of a raw flash node record in bytes
	NodeSize = 132

	// AddressSize is the size of a flash address in bytes (little-endian)
	AddressSize = 2

	// BlockSize is the data-node transfer block size in bytes
	BlockSize = 32

	// DataHeaderSize is the size of the big-endian length prefix stored in
	// front of every data node
	DataHeaderSize = 4

	// FavoriteCount is the number of favorite slots on the device
	FavoriteCount = 14

	// UIDKeySize is the request key size for the Get UID command
	UIDKeySize = 16
)

// Command codes.
const (
	CmdExportFlashStart  = 0x8A
	CmdExportFlash       = 0x8B
	CmdExportFlashEnd    = 0x8C
	CmdImportFlashBegin  = 0x8D
	CmdImportFlash       = 0x8E
	CmdImportFlashEnd    = 0x8F
	CmdExportEepromStart = 0x90
	CmdExportEeprom      = 0x91
	CmdExportEepromEnd   = 0x92
	CmdImportEepromBegin = 0x93
	CmdImportEeprom      = 0x94
	CmdImportEepromEnd   = 0x95
	CmdEraseEeprom       = 0x96
	CmdEraseFlash        = 0x97
	CmdEraseSmartcard    = 0x98
	CmdDrawBitmap        = 0x99
	CmdSetFont           = 0x9A
	CmdUSBKeyboardPress  = 0x9B
	CmdStackFree         = 0x9C
	CmdCloneSmartcard    = 0x9D
	CmdDebug             = 0xA0
	CmdPing              = 0xA1
	CmdVersion           = 0xA2
	CmdContext           = 0xA3
	CmdGetLogin          = 0xA4
	CmdGetPassword       = 0xA5
	CmdSetLogin          = 0xA6
	CmdSetPassword       = 0xA7
	CmdCheckPassword     = 0xA8
	CmdAddContext        = 0xA9
	CmdSetBootloaderPwd  = 0xAA
	CmdJumpToBootloader  = 0xAB
	CmdGetRandomNumber   = 0xAC
	CmdStartMemoryMgmt   = 0xAD
	CmdImportMediaStart  = 0xAE
	CmdImportMedia       = 0xAF
	CmdImportMediaEnd    = 0xB0
	CmdSetParameter      = 0xB1
	CmdGetParameter      = 0xB2
	CmdResetCard         = 0xB3
	CmdReadCardLogin     = 0xB4
	CmdReadCardPass      = 0xB5
	CmdSetCardLogin      = 0xB6
	CmdSetCardPass       = 0xB7
	CmdAddUnknownCard    = 0xB8
	CmdStatus            = 0xB9
	CmdFunctionalTestRes = 0xBA
	CmdSetDate           = 0xBB
	CmdSetUID            = 0xBC
	CmdGetUID            = 0xBD
	CmdSetDataService    = 0xBE
	CmdAddDataService    = 0xBF
	CmdWrite32BInDN      = 0xC0
	CmdRead32BInDN       = 0xC1
	CmdCancelUserRequest = 0xC3
	CmdPleaseRetry       = 0xC4
	CmdReadFlashNode     = 0xC5
	CmdWriteFlashNode    = 0xC6
	CmdGetFavorite       = 0xC7
	CmdSetFavorite       = 0xC8
	CmdGetStartingParent = 0xC9
	CmdSetStartingParent = 0xCA
	CmdGetCTRValue       = 0xCB
	CmdSetCTRValue       = 0xCC
	CmdAddCardCPZCTR     = 0xCD
	CmdGetCardCPZCTR     = 0xCE
	CmdCardCPZCTRPacket  = 0xCF
	CmdGet30FreeSlots    = 0xD0
	CmdGetDNStartParent  = 0xD1
	CmdSetDNStartParent  = 0xD2
	CmdEndMemoryMgmt     = 0xD3
	CmdSetUserChangeNb   = 0xD4
	CmdGetDescription    = 0xD5
	CmdGetUserChangeNb   = 0xD6
	CmdSetDescription    = 0xD8
	CmdLockDevice        = 0xD9
	CmdGetSerial         = 0xDA
)

// DeviceStatus is the state reported by the Status command.
type DeviceStatus byte

// Device status values.
const (
	StatusUnknown      DeviceStatus = 0xFF
	StatusNoCard       DeviceStatus = 0x00
	StatusLocked       DeviceStatus = 0x01
	StatusLockScreen   DeviceStatus = 0x03
	StatusUnlocked     DeviceStatus = 0x05
	StatusUnknownCard  DeviceStatus = 0x09
)

// String returns a human-readable name for the status.
func (s DeviceStatus) String() string {
	switch s {
	case StatusNoCard:
		return "no card"
	case StatusLocked:
		return "locked"
	case StatusLockScreen:
		return "lock screen"
	case StatusUnlocked:
		return "unlocked"
	case StatusUnknownCard:
		return "unknown card"
	default:
		return "unknown"
	}
}

// Param identifies a device parameter for the Get/Set Parameter commands.
type Param byte

// Parameter ids. The numbering matches the device firmware EEPROM layout
// and must not be reordered.
const (
	ParamUserInitKey Param = iota
	ParamKeyboardLayout
	ParamUserInterTimeout
	ParamLockTimeoutEnable
	ParamLockTimeout
	ParamTouchDI
	ParamTouchWheelOSOld
	ParamTouchProxOS
	ParamOfflineMode
	ParamScreensaver
	ParamTouchChargeTime
	ParamTouchWheelOS0
	ParamTouchWheelOS1
	ParamTouchWheelOS2
	ParamFlashScreen
	ParamUserReqCancel
	ParamTutorialBool
	ParamScreenSaverSpeed
	ParamLUTBootPopulating
	ParamKeyAfterLoginSendBool
	ParamKeyAfterLoginSend
	ParamKeyAfterPassSendBool
	ParamKeyAfterPassSend
	ParamDelayAfterKeyEntryBool
	ParamDelayAfterKeyEntry
	ParamInvertedScreenAtBoot
	ParamMiniOLEDContrast
	ParamMiniLEDAnimMask
	ParamMiniKnockDetectEnable
	ParamMiniKnockThreshold
	ParamLockUnlockFeature
	ParamHashDisplayFeature
	ParamRandomInitPin
)

// KnockSensitivity is the user-facing knock detection sensitivity.
type KnockSensitivity int

// Knock sensitivity levels.
const (
	KnockLow    KnockSensitivity = 0
	KnockMedium KnockSensitivity = 1
	KnockHigh   KnockSensitivity = 2
)
