package apperr

import "golang.org/x/text/language"

var defaultTag = language.Vietnamese

var matcher = language.NewMatcher([]language.Tag{language.Vietnamese, language.English})

var messages = map[language.Tag]map[Code]string{
	language.Vietnamese: {
		InsufficientStock:    "Không đủ tồn kho",
		PartNotFound:         "Không tìm thấy phụ tùng",
		InvalidPart:          "Phụ tùng không hợp lệ",
		InvalidStatus:        "Trạng thái không hợp lệ",
		InvalidPaymentStatus: "Trạng thái thanh toán không hợp lệ",
		InvalidPaymentAmount: "Số tiền thanh toán không hợp lệ",
		InvalidInput:         "Dữ liệu không hợp lệ",
		Unauthorized:         "Không có quyền thực hiện",
		BranchMismatch:       "Không thuộc chi nhánh này",
		OrderNotFound:        "Không tìm thấy phiếu sửa chữa",
		OrderRefunded:        "Phiếu đã hoàn tiền",
		OrderLocked:          "Phiếu đã thanh toán và trả máy, không thể sửa",
		AlreadyRefunded:      "Phiếu đã được hoàn tiền trước đó",
		SubmissionInFlight:   "Yêu cầu đang được xử lý",
		OperationFailed:      "Thao tác thất bại",
	},
	language.English: {
		InsufficientStock:    "Insufficient stock",
		PartNotFound:         "Part not found",
		InvalidPart:          "Invalid part",
		InvalidStatus:        "Invalid status",
		InvalidPaymentStatus: "Invalid payment status",
		InvalidPaymentAmount: "Invalid payment amount",
		InvalidInput:         "Invalid input",
		Unauthorized:         "Not authorized",
		BranchMismatch:       "Branch mismatch",
		OrderNotFound:        "Work order not found",
		OrderRefunded:        "Work order has been refunded",
		OrderLocked:          "Work order is paid and handed off",
		AlreadyRefunded:      "Work order already refunded",
		SubmissionInFlight:   "Submission already in progress",
		OperationFailed:      "Operation failed",
	},
}

// Message returns the localized text for code, falling back to Vietnamese.
func Message(code Code, tag language.Tag) string {
	if table, ok := messages[tag]; ok {
		if msg, ok := table[code]; ok {
			return msg
		}
	}
	if msg, ok := messages[defaultTag][code]; ok {
		return msg
	}
	return string(code)
}

// MatchLanguage picks the supported language for an Accept-Language header.
func MatchLanguage(acceptLanguage string) language.Tag {
	if acceptLanguage == "" {
		return defaultTag
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return defaultTag
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return defaultTag
	}
	if idx == 1 {
		return language.English
	}
	return language.Vietnamese
}
