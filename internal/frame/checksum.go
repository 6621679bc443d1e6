// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frame

// HeaderCRC folds one octet into the running header CRC.
//
// The recurrence is the one published with the MS/TP datalink (an 8-bit CRC
// with polynomial x^8 + x^7 + 1, processed LSB first) and must stay
// bit-for-bit identical for interoperability.
func HeaderCRC(b, crc byte) byte {
	c := uint16(crc ^ b)

	c = c ^ (c << 1) ^ (c << 2) ^ (c << 3) ^
		(c << 4) ^ (c << 5) ^ (c << 6) ^ (c << 7)

	// fold the bit shifted out of the top back into bit 0
	return byte((c & 0xFE) ^ ((c >> 8) & 1))
}

// DataCRC folds one octet into the running data CRC (reflected CCITT).
func DataCRC(b byte, crc uint16) uint16 {
	low := (crc & 0xFF) ^ uint16(b)

	return (crc >> 8) ^ (low << 8) ^ (low << 3) ^
		(low << 12) ^ (low >> 4) ^
		(low & 0x0F) ^ ((low & 0x0F) << 7)
}

// HeaderCRCBytes folds every octet of data into crc.
func HeaderCRCBytes(crc byte, data []byte) byte {
	for _, b := range data {
		crc = HeaderCRC(b, crc)
	}
	return crc
}

// DataCRCBytes folds every octet of data into crc.
func DataCRCBytes(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = DataCRC(b, crc)
	}
	return crc
}
