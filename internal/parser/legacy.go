package parser

// Legacy OLE2 formats: .doc via richardlehane/mscfb and .xls via shakinm/xlsReader.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
	"github.com/shakinm/xlsReader/xls"
)

// maxPieceChars caps a single piece-table run; larger values mean a corrupt CLX.
const maxPieceChars = 1000000

// parseXLSLegacy summarizes each non-empty sheet of a BIFF (.xls) workbook.
func (dp *DocumentParser) parseXLSLegacy(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var tables []*table
	for i := 0; i < wb.GetNumberSheets(); i++ {
		sheet, err := wb.GetSheet(i)
		if err != nil {
			continue
		}
		var records [][]string
		for rowIdx := 0; rowIdx < sheet.GetNumberRows(); rowIdx++ {
			row, err := sheet.GetRow(rowIdx)
			if err != nil || row == nil {
				continue
			}
			cols := row.GetCols()
			rec := make([]string, len(cols))
			blank := true
			for c, cell := range cols {
				rec[c] = strings.TrimSpace(cell.GetString())
				if rec[c] != "" {
					blank = false
				}
			}
			if blank && len(records) == 0 {
				continue
			}
			records = append(records, rec)
		}
		if len(records) > 0 {
			tables = append(tables, newTable(sheet.GetName(), records))
		}
	}
	if len(tables) == 0 {
		return nil, errors.New("workbook has no data")
	}

	return &ParseResult{
		Text:     summarizeTables(tables),
		Metadata: tableMetadata(tables),
	}, nil
}

// parseWordLegacy extracts text from a binary .doc: the WordDocument stream
// holds the characters and the 0Table/1Table stream holds the piece table.
func (dp *DocumentParser) parseWordLegacy(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	streams := map[string][]byte{}
	for {
		entry, nextErr := doc.Next()
		if nextErr != nil {
			break
		}
		switch entry.Name {
		case "WordDocument", "0Table", "1Table":
			if b, readErr := io.ReadAll(entry); readErr == nil {
				streams[entry.Name] = b
			}
		}
	}

	wordDoc := streams["WordDocument"]
	if len(wordDoc) == 0 {
		return nil, errors.New("WordDocument stream not found")
	}

	text := extractWordText(wordDoc, streams)
	text = filterWordFieldCodes(text)

	return &ParseResult{
		Text:     CleanText(text),
		Metadata: map[string]string{},
	}, nil
}

// extractWordText prefers the piece table named by the FIB and falls back to
// scanning the WordDocument stream for printable runs.
func extractWordText(wordDoc []byte, streams map[string][]byte) string {
	if len(wordDoc) < 12 {
		return ""
	}

	// FIB flags at 0x0A, bit 9 (fWhichTblStm) selects 1Table over 0Table.
	flags := binary.LittleEndian.Uint16(wordDoc[0x0A:0x0C])
	tableName := "0Table"
	if (flags>>9)&1 == 1 {
		tableName = "1Table"
	}
	table := streams[tableName]
	if len(table) == 0 {
		// some writers set the flag wrongly; use whichever table exists
		table = streams["1Table"]
		if len(table) == 0 {
			table = streams["0Table"]
		}
	}

	if len(table) > 0 {
		if text := extractFromPieceTable(wordDoc, table); text != "" {
			return text
		}
	}
	return extractDirectText(wordDoc)
}

// extractFromPieceTable walks the PlcPcd in the CLX located by fcClx/lcbClx.
func extractFromPieceTable(wordDoc, tableData []byte) string {
	if len(wordDoc) < 0x01AA {
		return ""
	}
	fcClx := binary.LittleEndian.Uint32(wordDoc[0x01A2:0x01A6])
	lcbClx := binary.LittleEndian.Uint32(wordDoc[0x01A6:0x01AA])
	if fcClx == 0 || lcbClx == 0 || uint64(fcClx)+uint64(lcbClx) > uint64(len(tableData)) {
		return ""
	}
	clx := tableData[fcClx : fcClx+lcbClx]

	// Skip Prc entries (0x01) until the Pcdt (0x02).
	pos := 0
	for pos < len(clx) {
		switch clx[pos] {
		case 0x01:
			if pos+3 > len(clx) {
				return ""
			}
			pos += 3 + int(binary.LittleEndian.Uint16(clx[pos+1:pos+3]))
			continue
		case 0x02:
			pos++
		default:
			return ""
		}
		break
	}
	if pos+4 > len(clx) {
		return ""
	}
	lcb := int(binary.LittleEndian.Uint32(clx[pos : pos+4]))
	pos += 4
	if lcb < 12 || pos+lcb > len(clx) {
		return ""
	}
	plcPcd := clx[pos : pos+lcb]

	// n+1 CPs (4 bytes each) followed by n PCDs (8 bytes each).
	const pcdSize = 8
	n := (lcb - 4) / (4 + pcdSize)
	cpArraySize := (n + 1) * 4
	if n <= 0 || cpArraySize+n*pcdSize > lcb {
		return ""
	}

	var sb strings.Builder
	for i := 0; i < n; i++ {
		cpStart := binary.LittleEndian.Uint32(plcPcd[i*4:])
		cpEnd := binary.LittleEndian.Uint32(plcPcd[(i+1)*4:])
		if cpEnd <= cpStart || cpEnd-cpStart > maxPieceChars {
			continue
		}
		chars := cpEnd - cpStart

		pcd := plcPcd[cpArraySize+i*pcdSize:]
		fcCompressed := binary.LittleEndian.Uint32(pcd[2:6])
		compressed := fcCompressed&0x40000000 != 0
		fc := fcCompressed & 0x3FFFFFFF

		if compressed {
			start := uint64(fc / 2)
			if start+uint64(chars) > uint64(len(wordDoc)) {
				continue
			}
			for _, b := range wordDoc[start : start+uint64(chars)] {
				writeWordChar(&sb, rune(b))
			}
			continue
		}

		start := uint64(fc)
		if start+uint64(chars)*2 > uint64(len(wordDoc)) {
			continue
		}
		chunk := wordDoc[start : start+uint64(chars)*2]
		u16s := make([]uint16, chars)
		for j := range u16s {
			u16s[j] = binary.LittleEndian.Uint16(chunk[j*2:])
		}
		for _, r := range utf16.Decode(u16s) {
			writeWordChar(&sb, r)
		}
	}
	return sb.String()
}

// writeWordChar maps Word's paragraph (0x0D), line (0x0B) and cell (0x07)
// marks and drops other control characters.
func writeWordChar(sb *strings.Builder, r rune) {
	switch {
	case r == 0x0D || r == 0x0B:
		sb.WriteByte('\n')
	case r == 0x07:
		sb.WriteByte('\t')
	case r >= 0x20 || r == 0x09:
		sb.WriteRune(r)
	}
}

// extractDirectText scans the WordDocument stream for printable ASCII runs.
// Less accurate than the piece table, used when the CLX cannot be read.
func extractDirectText(wordDoc []byte) string {
	var sb strings.Builder
	inText := false
	for _, b := range wordDoc {
		printable := (b >= 0x20 && b < 0x7F) || b == 0x0A || b == 0x0D || b == 0x09
		if printable {
			if b == 0x0D {
				b = '\n'
			}
			sb.WriteByte(b)
			inText = true
			continue
		}
		if inText {
			sb.WriteByte('\n')
		}
		inText = false
	}
	return sb.String()
}

// wordFieldCodePatterns contains Word field code markers that should be filtered.
var wordFieldCodePatterns = []string{
	"HYPERLINK",
	"PAGEREF",
	"MERGEFORMAT",
	"TOC \\o",
	"TOC \\h",
	"\\l \"",
	" \\h",
}

// filterWordFieldCodes drops lines that are field code instructions leaked
// through the piece table (HYPERLINK, PAGEREF, TOC...).
func filterWordFieldCodes(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		field := false
		for _, pat := range wordFieldCodePatterns {
			if trimmed != "" && strings.Contains(trimmed, pat) {
				field = true
				break
			}
		}
		if !field {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
