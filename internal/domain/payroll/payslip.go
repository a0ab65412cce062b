package payroll

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"hrpay/internal/domain/company"
	cryptoutil "hrpay/internal/platform/crypto"
)

// RenderPayslip writes one staff member's payslip as a PDF.
func RenderPayslip(w io.Writer, comp company.Company, run Run, row ResultRow) error {
	r := row.Result.Rounded()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Payslip %s %s", row.StaffNumber, run.Period.Format("2006-01")), true)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, comp.Name)
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	if comp.TIN != "" {
		pdf.Cell(0, 6, "TIN: "+comp.TIN)
		pdf.Ln(6)
	}
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, "Payslip for "+run.Period.Format("January 2006"))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Staff: %s (%s)", row.StaffName, row.StaffNumber))
	pdf.Ln(7)
	if row.BankAccount != "" {
		pdf.Cell(0, 7, fmt.Sprintf("Bank: %s %s", row.BankName, row.BankAccount))
		pdf.Ln(7)
	}
	pdf.Ln(4)

	line := func(label string, amount decimal.Decimal, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 11)
		pdf.CellFormat(120, 7, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(50, 7, amount.StringFixed(2)+" RWF", "", 1, "R", false, 0, "")
	}

	line("Basic pay", row.Input.BasicPayGross, false)
	line("Transport allowance", row.Input.TransportAllowanceGross, false)
	line("Other allowances", row.Input.OtherGrossComponents, false)
	line("Gross salary", r.TotalGrossSalary, true)
	pdf.Ln(3)
	line("PAYE", r.PAYEAmount, false)
	line("Pension", r.EmployeePension, false)
	line("Maternity", r.EmployeeMaternity, false)
	line("RAMA", r.EmployeeRAMA, false)
	line("CBHI", r.CBHIDeduction, false)
	for _, d := range row.Input.OtherDeductions {
		line("Deduction: "+d.Type, d.Amount, false)
	}
	line("Total deductions", r.TotalAppliedDeductions, true)
	pdf.Ln(3)
	line("Net pay", r.FinalNetPay, true)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.Cell(0, 6, "Employer contributions")
	pdf.Ln(6)
	line("Employer pension", r.EmployerPension, false)
	line("Employer maternity", r.EmployerMaternity, false)
	line("Employer RAMA", r.EmployerRAMA, false)
	if r.EmployerCBHI.IsPositive() {
		line("Employer CBHI", r.EmployerCBHI, false)
	}

	return pdf.Output(w)
}

func (s *Service) Payslip(ctx context.Context, companyID, runID, staffID string) ([]byte, error) {
	run, err := s.store.GetRun(ctx, companyID, runID)
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetResult(ctx, companyID, runID, staffID)
	if err != nil {
		return nil, err
	}
	comp, err := s.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := RenderPayslip(&buf, comp, run, row); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PayslipArchive keeps a copy of every approved payslip on disk, encrypted
// when a key is configured.
type PayslipArchive struct {
	Dir    string
	Crypto *cryptoutil.Service
}

func (a *PayslipArchive) Write(run Run, staffID string, pdf []byte) (string, error) {
	dir := filepath.Join(a.Dir, run.CompanyID, run.Period.Format("2006-01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, staffID+".pdf")
	if a.Crypto.Configured() {
		encrypted, err := a.Crypto.Encrypt(pdf)
		if err != nil {
			return "", err
		}
		path += ".enc"
		return path, os.WriteFile(path, encrypted, 0o600)
	}
	return path, os.WriteFile(path, pdf, 0o600)
}

func (s *Service) archivePayslips(ctx context.Context, run Run, rows []ResultRow) {
	comp, err := s.companies.Get(ctx, run.CompanyID)
	if err != nil {
		slog.Warn("payslip archive company lookup failed", "runId", run.ID, "err", err)
		return
	}
	for _, row := range rows {
		var buf bytes.Buffer
		if err := RenderPayslip(&buf, comp, run, row); err != nil {
			slog.Warn("payslip render failed", "runId", run.ID, "staffId", row.StaffID, "err", err)
			continue
		}
		if _, err := s.payslips.Write(run, row.StaffID, buf.Bytes()); err != nil {
			slog.Warn("payslip archive failed", "runId", run.ID, "staffId", row.StaffID, "err", err)
		}
	}
}
