package payroll

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"
)

// RegisterRow is one line of the payroll register.
type RegisterRow struct {
	StaffNumber           string `csv:"staff_number"`
	StaffName             string `csv:"staff_name"`
	BankName              string `csv:"bank_name"`
	BankAccount           string `csv:"bank_account"`
	GrossSalary           string `csv:"gross_salary"`
	PAYE                  string `csv:"paye"`
	EmployeePension       string `csv:"employee_pension"`
	EmployeeMaternity     string `csv:"employee_maternity"`
	EmployeeRAMA          string `csv:"employee_rama"`
	CBHI                  string `csv:"cbhi"`
	OtherDeductions       string `csv:"other_deductions"`
	TotalDeductions       string `csv:"total_deductions"`
	NetPay                string `csv:"net_pay"`
	EmployerPension       string `csv:"employer_pension"`
	EmployerMaternity     string `csv:"employer_maternity"`
	EmployerRAMA          string `csv:"employer_rama"`
	EmployerCBHI          string `csv:"employer_cbhi"`
	EmployerContributions string `csv:"employer_contributions"`
	Status                string `csv:"status"`
	Warnings              string `csv:"warnings"`
}

var registerHeaders = []string{
	"Staff Number", "Staff Name", "Bank", "Bank Account", "Gross Salary",
	"PAYE", "Pension", "Maternity", "RAMA", "CBHI", "Other Deductions",
	"Total Deductions", "Net Pay", "Employer Pension", "Employer Maternity",
	"Employer RAMA", "Employer CBHI", "Employer Contributions", "Status", "Warnings",
}

func registerRow(row ResultRow) RegisterRow {
	r := row.Result.Rounded()
	return RegisterRow{
		StaffNumber:           row.StaffNumber,
		StaffName:             row.StaffName,
		BankName:              row.BankName,
		BankAccount:           row.BankAccount,
		GrossSalary:           r.TotalGrossSalary.StringFixed(2),
		PAYE:                  r.PAYEAmount.StringFixed(2),
		EmployeePension:       r.EmployeePension.StringFixed(2),
		EmployeeMaternity:     r.EmployeeMaternity.StringFixed(2),
		EmployeeRAMA:          r.EmployeeRAMA.StringFixed(2),
		CBHI:                  r.CBHIDeduction.StringFixed(2),
		OtherDeductions:       r.OtherDeductionsTotal.StringFixed(2),
		TotalDeductions:       r.TotalAppliedDeductions.StringFixed(2),
		NetPay:                r.FinalNetPay.StringFixed(2),
		EmployerPension:       r.EmployerPension.StringFixed(2),
		EmployerMaternity:     r.EmployerMaternity.StringFixed(2),
		EmployerRAMA:          r.EmployerRAMA.StringFixed(2),
		EmployerCBHI:          r.EmployerCBHI.StringFixed(2),
		EmployerContributions: RoundMoney(r.EmployerContributions()).StringFixed(2),
		Status:                r.Status,
		Warnings:              strings.Join(row.Warnings, ";"),
	}
}

func (r RegisterRow) cells() []any {
	return []any{
		r.StaffNumber, r.StaffName, r.BankName, r.BankAccount, r.GrossSalary,
		r.PAYE, r.EmployeePension, r.EmployeeMaternity, r.EmployeeRAMA, r.CBHI,
		r.OtherDeductions, r.TotalDeductions, r.NetPay, r.EmployerPension,
		r.EmployerMaternity, r.EmployerRAMA, r.EmployerCBHI, r.EmployerContributions,
		r.Status, r.Warnings,
	}
}

func WriteRegisterCSV(w io.Writer, rows []ResultRow) error {
	out := make([]RegisterRow, len(rows))
	for i, row := range rows {
		out[i] = registerRow(row)
	}
	return gocsv.Marshal(&out, w)
}

func WriteRegisterXLSX(w io.Writer, run Run, rows []ResultRow) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := run.Period.Format("2006-01")
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	header := make([]any, len(registerHeaders))
	for i, h := range registerHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := registerRow(row).cells()
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}

// Export is a rendered payroll register.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (s *Service) Export(ctx context.Context, companyID, runID, format string) (Export, error) {
	run, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return Export{}, err
	}
	rows, err := s.store.ListResults(ctx, companyID, runID)
	if err != nil {
		return Export{}, err
	}
	base := fmt.Sprintf("payroll-%s", run.Period.Format("2006-01"))
	var buf bytes.Buffer
	switch format {
	case ExportFormatCSV, "":
		if err := WriteRegisterCSV(&buf, rows); err != nil {
			return Export{}, err
		}
		return Export{Filename: base + ".csv", ContentType: "text/csv", Data: buf.Bytes()}, nil
	case ExportFormatXLSX:
		if err := WriteRegisterXLSX(&buf, run, rows); err != nil {
			return Export{}, err
		}
		return Export{
			Filename:    base + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        buf.Bytes(),
		}, nil
	default:
		return Export{}, ErrUnsupportedExport
	}
}
