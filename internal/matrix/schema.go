// Package matrix builds and persists the Master Matrix: the orchestrated
// full/partial rebuild, the rolling resequence, and the columnar+JSON file
// management around them.
package matrix

import (
	"fmt"
	"time"

	"matrixcore/internal/domain"
	"matrixcore/internal/slots"
)

// NoTradeEntryTime is the entry_time sentinel persisted for days without a
// trade. It sorts after every real HH:MM value, keeping the canonical order
// stable.
const NoTradeEntryTime = "23:59:59"

// Record is the on-disk row of the Master Matrix. Field order is the column
// order; it never changes between runs so that identical inputs produce
// byte-identical files.
type Record struct {
	Date            string `parquet:"Date" json:"Date"`
	Time            string `parquet:"Time" json:"Time"`
	TimeChange      string `parquet:"Time Change,optional" json:"Time Change,omitempty"`
	ActualTradeTime string `parquet:"actual_trade_time,optional" json:"actual_trade_time"`
	EntryTime       string `parquet:"entry_time" json:"entry_time"`
	Session         string `parquet:"Session" json:"Session"`
	Instrument      string `parquet:"Instrument" json:"Instrument"`
	Stream          string `parquet:"Stream" json:"Stream"`
	Direction       string `parquet:"Direction,optional" json:"Direction,omitempty"`
	Result          string `parquet:"Result" json:"Result"`

	Target float64 `parquet:"Target" json:"Target"`
	Range  float64 `parquet:"Range" json:"Range"`
	Peak   float64 `parquet:"Peak" json:"Peak"`
	Profit float64 `parquet:"Profit" json:"Profit"`

	StopLoss *float64 `parquet:"StopLoss,optional" json:"StopLoss,omitempty"`
	SCFS1    *float64 `parquet:"scf_s1,optional" json:"scf_s1,omitempty"`
	SCFS2    *float64 `parquet:"scf_s2,optional" json:"scf_s2,omitempty"`
	ONR      *float64 `parquet:"onr,optional" json:"onr,omitempty"`
	ONRHigh  *float64 `parquet:"onr_high,optional" json:"onr_high,omitempty"`
	ONRLow   *float64 `parquet:"onr_low,optional" json:"onr_low,omitempty"`

	// Per-slot score pairs. Only the slots of the row's session are set.
	Points0730 *int32 `parquet:"07:30 Points,optional" json:"07:30 Points,omitempty"`
	Roll0730   *int32 `parquet:"07:30 Rolling,optional" json:"07:30 Rolling,omitempty"`
	Points0800 *int32 `parquet:"08:00 Points,optional" json:"08:00 Points,omitempty"`
	Roll0800   *int32 `parquet:"08:00 Rolling,optional" json:"08:00 Rolling,omitempty"`
	Points0900 *int32 `parquet:"09:00 Points,optional" json:"09:00 Points,omitempty"`
	Roll0900   *int32 `parquet:"09:00 Rolling,optional" json:"09:00 Rolling,omitempty"`
	Points0930 *int32 `parquet:"09:30 Points,optional" json:"09:30 Points,omitempty"`
	Roll0930   *int32 `parquet:"09:30 Rolling,optional" json:"09:30 Rolling,omitempty"`
	Points1000 *int32 `parquet:"10:00 Points,optional" json:"10:00 Points,omitempty"`
	Roll1000   *int32 `parquet:"10:00 Rolling,optional" json:"10:00 Rolling,omitempty"`
	Points1030 *int32 `parquet:"10:30 Points,optional" json:"10:30 Points,omitempty"`
	Roll1030   *int32 `parquet:"10:30 Rolling,optional" json:"10:30 Rolling,omitempty"`
	Points1100 *int32 `parquet:"11:00 Points,optional" json:"11:00 Points,omitempty"`
	Roll1100   *int32 `parquet:"11:00 Rolling,optional" json:"11:00 Rolling,omitempty"`

	SL float64  `parquet:"SL" json:"SL"`
	R  *float64 `parquet:"R,optional" json:"R,omitempty"`

	DayOfMonth    int32  `parquet:"day_of_month" json:"day_of_month"`
	DOW           string `parquet:"dow" json:"dow"`
	DOWFull       string `parquet:"dow_full" json:"dow_full"`
	Month         int32  `parquet:"month" json:"month"`
	SessionIndex  int32  `parquet:"session_index" json:"session_index"`
	IsTwoStream   bool   `parquet:"is_two_stream" json:"is_two_stream"`
	DomBlocked    bool   `parquet:"dom_blocked" json:"dom_blocked"`
	FilterReasons string `parquet:"filter_reasons,optional" json:"filter_reasons,omitempty"`
	FinalAllowed  bool   `parquet:"final_allowed" json:"final_allowed"`

	GlobalTradeID int64 `parquet:"global_trade_id" json:"global_trade_id"`
}

// slotPoints maps a canonical slot to the address of its Points field.
func (r *Record) slotPoints(slot string) **int32 {
	switch slot {
	case "07:30":
		return &r.Points0730
	case "08:00":
		return &r.Points0800
	case "09:00":
		return &r.Points0900
	case "09:30":
		return &r.Points0930
	case "10:00":
		return &r.Points1000
	case "10:30":
		return &r.Points1030
	case "11:00":
		return &r.Points1100
	}
	return nil
}

func (r *Record) slotRolling(slot string) **int32 {
	switch slot {
	case "07:30":
		return &r.Roll0730
	case "08:00":
		return &r.Roll0800
	case "09:00":
		return &r.Roll0900
	case "09:30":
		return &r.Roll0930
	case "10:00":
		return &r.Roll1000
	case "10:30":
		return &r.Roll1030
	case "11:00":
		return &r.Roll1100
	}
	return nil
}

// ToRecord converts a chosen row to its on-disk form. A missing entry time
// becomes the sort sentinel.
func ToRecord(row domain.ChosenRow) Record {
	rec := Record{
		Date:            row.TradeDate.Format(domain.DateLayout),
		Time:            row.Time,
		TimeChange:      row.TimeChange,
		ActualTradeTime: row.ActualTradeTime,
		EntryTime:       row.ActualTradeTime,
		Session:         row.Session,
		Instrument:      row.Instrument,
		Stream:          row.Stream,
		Direction:       row.Direction,
		Result:          row.Result,
		Target:          row.Target,
		Range:           row.Range,
		Peak:            row.Peak,
		Profit:          row.Profit,
		StopLoss:        row.StopLoss,
		SCFS1:           row.SCFS1,
		SCFS2:           row.SCFS2,
		ONR:             row.ONR,
		ONRHigh:         row.ONRHigh,
		ONRLow:          row.ONRLow,
		SL:              row.SL,
		R:               row.R,
		DayOfMonth:      int32(row.DayOfMonth),
		DOW:             row.DOW,
		DOWFull:         row.DOWFull,
		Month:           int32(row.Month),
		SessionIndex:    int32(row.SessionIndex),
		IsTwoStream:     row.IsTwoStream,
		DomBlocked:      row.DomBlocked,
		FilterReasons:   row.FilterReasons,
		FinalAllowed:    row.FinalAllowed,
		GlobalTradeID:   row.GlobalTradeID,
	}
	if rec.EntryTime == "" {
		rec.EntryTime = NoTradeEntryTime
	}

	for slot, v := range row.SlotPoints {
		if p := rec.slotPoints(slot); p != nil {
			val := int32(v)
			*p = &val
		}
	}
	for slot, v := range row.SlotRolling {
		if p := rec.slotRolling(slot); p != nil {
			val := int32(v)
			*p = &val
		}
	}
	return rec
}

// FromRecord converts an on-disk row back to a chosen row. The sort sentinel
// maps back to an empty entry time.
func FromRecord(rec Record) (domain.ChosenRow, error) {
	date, err := time.Parse(domain.DateLayout, rec.Date)
	if err != nil {
		return domain.ChosenRow{}, fmt.Errorf("matrix row has invalid Date %q: %w", rec.Date, err)
	}

	row := domain.ChosenRow{
		AnalyzerRow: domain.AnalyzerRow{
			TradeDate:  date,
			Time:       rec.Time,
			Session:    rec.Session,
			Instrument: rec.Instrument,
			Stream:     rec.Stream,
			Direction:  rec.Direction,
			Result:     rec.Result,
			Target:     rec.Target,
			Range:      rec.Range,
			Peak:       rec.Peak,
			Profit:     rec.Profit,
			StopLoss:   rec.StopLoss,
			SCFS1:      rec.SCFS1,
			SCFS2:      rec.SCFS2,
			ONR:        rec.ONR,
			ONRHigh:    rec.ONRHigh,
			ONRLow:     rec.ONRLow,
		},
		ActualTradeTime: rec.ActualTradeTime,
		TimeChange:      rec.TimeChange,
		SL:              rec.SL,
		R:               rec.R,
		DayOfMonth:      int(rec.DayOfMonth),
		DOW:             rec.DOW,
		DOWFull:         rec.DOWFull,
		Month:           int(rec.Month),
		SessionIndex:    int(rec.SessionIndex),
		IsTwoStream:     rec.IsTwoStream,
		DomBlocked:      rec.DomBlocked,
		FilterReasons:   rec.FilterReasons,
		FinalAllowed:    rec.FinalAllowed,
		GlobalTradeID:   rec.GlobalTradeID,
	}
	if row.ActualTradeTime == NoTradeEntryTime {
		row.ActualTradeTime = ""
	}

	row.SlotPoints = make(map[string]int)
	row.SlotRolling = make(map[string]int)
	for _, slot := range slots.All() {
		if p := rec.slotPoints(slot); p != nil && *p != nil {
			row.SlotPoints[slot] = int(**p)
		}
		if p := rec.slotRolling(slot); p != nil && *p != nil {
			row.SlotRolling[slot] = int(**p)
		}
	}
	return row, nil
}
