package sx126x

// Commands (datasheet section 13)
const (
	SX126X_CMD_NOP                       = 0x00
	SX126X_CMD_SET_SLEEP                 = 0x84
	SX126X_CMD_SET_STANDBY               = 0x80
	SX126X_CMD_SET_FS                    = 0xC1
	SX126X_CMD_SET_TX                    = 0x83
	SX126X_CMD_SET_RX                    = 0x82
	SX126X_CMD_SET_CAD                   = 0xC5
	SX126X_CMD_SET_REGULATOR_MODE        = 0x96
	SX126X_CMD_CALIBRATE                 = 0x89
	SX126X_CMD_CALIBRATE_IMAGE           = 0x98
	SX126X_CMD_SET_PA_CONFIG             = 0x95
	SX126X_CMD_WRITE_REGISTER            = 0x0D
	SX126X_CMD_READ_REGISTER             = 0x1D
	SX126X_CMD_WRITE_BUFFER              = 0x0E
	SX126X_CMD_READ_BUFFER               = 0x1E
	SX126X_CMD_SET_DIO_IRQ_PARAMS        = 0x08
	SX126X_CMD_GET_IRQ_STATUS            = 0x12
	SX126X_CMD_CLEAR_IRQ_STATUS          = 0x02
	SX126X_CMD_SET_DIO2_AS_RF_SWITCH     = 0x9D
	SX126X_CMD_SET_DIO3_AS_TCXO_CTRL     = 0x97
	SX126X_CMD_SET_RF_FREQUENCY          = 0x86
	SX126X_CMD_SET_PACKET_TYPE           = 0x8A
	SX126X_CMD_GET_PACKET_TYPE           = 0x11
	SX126X_CMD_SET_TX_PARAMS             = 0x8E
	SX126X_CMD_SET_MODULATION_PARAMS     = 0x8B
	SX126X_CMD_SET_PACKET_PARAMS         = 0x8C
	SX126X_CMD_SET_CAD_PARAMS            = 0x88
	SX126X_CMD_SET_BUFFER_BASE_ADDRESS   = 0x8F
	SX126X_CMD_GET_STATUS                = 0xC0
	SX126X_CMD_GET_RX_BUFFER_STATUS      = 0x13
	SX126X_CMD_GET_PACKET_STATUS         = 0x14
	SX126X_CMD_CLEAR_DEVICE_ERRORS       = 0x07
	SX126X_CMD_GET_DEVICE_ERRORS         = 0x17
	SX126X_CMD_SET_LORA_SYMB_NUM_TIMEOUT = 0xA0
)

// Registers
const (
	SX126X_REG_IQ_POLARITY        = 0x0736
	SX126X_REG_LORA_SYNC_WORD_MSB = 0x0740
	SX126X_REG_LORA_SYNC_WORD_LSB = 0x0741
	SX126X_REG_OCP                = 0x08E7
)

const (
	SX126X_STANDBY_RC   = 0x00
	SX126X_STANDBY_XOSC = 0x01

	SX126X_SLEEP_START_COLD = 0x00
	SX126X_SLEEP_START_WARM = 0x04
	SX126X_SLEEP_RTC_OFF    = 0x00

	SX126X_REGULATOR_LDO  = 0x00
	SX126X_REGULATOR_DCDC = 0x01

	SX126X_PACKET_TYPE_GFSK = 0x00
	SX126X_PACKET_TYPE_LORA = 0x01

	SX126X_LORA_HEADER_EXPLICIT = 0x00
	SX126X_LORA_HEADER_IMPLICIT = 0x01
	SX126X_LORA_CRC_OFF         = 0x00
	SX126X_LORA_CRC_ON          = 0x01
	SX126X_LORA_IQ_STANDARD     = 0x00
	SX126X_LORA_IQ_INVERTED     = 0x01

	SX126X_CAD_ON_1_SYMB  = 0x00
	SX126X_CAD_ON_2_SYMB  = 0x01
	SX126X_CAD_ON_4_SYMB  = 0x02
	SX126X_CAD_ON_8_SYMB  = 0x03
	SX126X_CAD_ON_16_SYMB = 0x04
	SX126X_CAD_GOTO_STDBY = 0x00
	SX126X_CAD_GOTO_RX    = 0x01

	SX126X_PA_RAMP_200U = 0x04

	// RX and TX timeouts disabled: single reception, no TX watchdog
	SX126X_TIMEOUT_NONE = 0x000000

	// Chip mode, bits 6:4 of the status byte
	SX126X_STATUS_MODE_MASK       = 0x70
	SX126X_STATUS_MODE_STDBY_RC   = 0x20
	SX126X_STATUS_MODE_STDBY_XOSC = 0x30
)

// IRQ flags
const (
	SX126X_IRQ_TX_DONE           = 0x0001
	SX126X_IRQ_RX_DONE           = 0x0002
	SX126X_IRQ_PREAMBLE_DETECTED = 0x0004
	SX126X_IRQ_SYNC_WORD_VALID   = 0x0008
	SX126X_IRQ_HEADER_VALID      = 0x0010
	SX126X_IRQ_HEADER_ERR        = 0x0020
	SX126X_IRQ_CRC_ERR           = 0x0040
	SX126X_IRQ_CAD_DONE          = 0x0080
	SX126X_IRQ_CAD_DETECTED      = 0x0100
	SX126X_IRQ_TIMEOUT           = 0x0200
	SX126X_IRQ_ALL               = 0x03FF
)

// LoRa bandwidth codes of SetModulationParams
const (
	SX126X_LORA_BW_7_8   = 0x00
	SX126X_LORA_BW_10_4  = 0x08
	SX126X_LORA_BW_15_6  = 0x01
	SX126X_LORA_BW_20_8  = 0x09
	SX126X_LORA_BW_31_25 = 0x02
	SX126X_LORA_BW_41_7  = 0x0A
	SX126X_LORA_BW_62_5  = 0x03
	SX126X_LORA_BW_125_0 = 0x04
	SX126X_LORA_BW_250_0 = 0x05
	SX126X_LORA_BW_500_0 = 0x06
)

const (
	MAX_PKT_LENGTH = 255
	FXOSC          = 32000000
)
