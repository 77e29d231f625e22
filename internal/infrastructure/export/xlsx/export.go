// Package xlsx writes the evidence gathered in a conversation to a spreadsheet.
package xlsx

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/evidence"
)

const (
	evidenceSheet   = "Evidence"
	transcriptSheet = "Transcript"
)

var (
	evidenceHeader   = []any{"Patient ID", "Department", "Date", "Kind", "Title", "Result", "Doctor", "Medicines", "Report Image"}
	transcriptHeader = []any{"Time", "Kind", "Text", "Attachment"}
)

// Write renders every evidence record of the snapshot, without the display cap, and
// the transcript. It returns the number of evidence rows written.
func Write(w io.Writer, snapshot domain.ConversationSnapshot) (int, error) {
	f, rows, err := build(snapshot)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return rows, nil
}

func Save(path string, snapshot domain.ConversationSnapshot) (int, error) {
	f, rows, err := build(snapshot)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("save workbook %s: %w", path, err)
	}
	return rows, nil
}

func build(snapshot domain.ConversationSnapshot) (*excelize.File, int, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", evidenceSheet); err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(transcriptSheet); err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("create transcript sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("create header style: %w", err)
	}

	patientID := ""
	if snapshot.SelectedPatient != nil {
		patientID = snapshot.SelectedPatient.PatientID
	}

	rows := 0
	if err := writeRow(f, evidenceSheet, 1, evidenceHeader); err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	for _, msg := range snapshot.Messages {
		if msg.Kind != domain.MessageEvidence {
			continue
		}
		for _, record := range msg.Evidence {
			view := evidence.RenderRecord(record)
			row := []any{patientID, view.Department, view.Date, view.TitleLabel, view.Title, view.Result, view.Doctor, view.Medicines, view.ReportImage}
			if err := writeRow(f, evidenceSheet, rows+2, row); err != nil {
				_ = f.Close()
				return nil, 0, err
			}
			rows++
		}
	}

	if err := writeRow(f, transcriptSheet, 1, transcriptHeader); err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	for i, msg := range snapshot.Messages {
		text := msg.Text
		if msg.Kind == domain.MessageEvidence {
			text = strconv.Itoa(len(msg.Evidence)) + " evidence record(s)"
		}
		row := []any{msg.CreatedAt.UTC().Format("2006-01-02 15:04:05"), string(msg.Kind), text, msg.Filename}
		if err := writeRow(f, transcriptSheet, i+2, row); err != nil {
			_ = f.Close()
			return nil, 0, err
		}
	}

	for _, sheet := range []string{evidenceSheet, transcriptSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			_ = f.Close()
			return nil, 0, fmt.Errorf("style %s header: %w", sheet, err)
		}
	}
	return f, rows, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
