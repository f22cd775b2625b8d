package domain

// UnavailableReason объясняет, почему позиция не может быть списана.
type UnavailableReason string

const (
	// ReasonInsufficientStock: товара меньше, чем запрошено.
	ReasonInsufficientStock UnavailableReason = "insufficient stock"
	// ReasonProductNotFound: товар отсутствует в складском учёте.
	ReasonProductNotFound UnavailableReason = "product not found"
	// ReasonInvalidQuantity: запрошено неположительное количество.
	ReasonInvalidQuantity UnavailableReason = "invalid quantity"
)

// Коды ошибок, которые возвращают StockLedger и OrderStore.
const (
	CodeInsufficientStock       = "INSUFFICIENT_STOCK"
	CodeProductNotFound         = "PRODUCT_NOT_FOUND"
	CodeInvalidQuantity         = "INVALID_QUANTITY"
	CodeInvalidCustomer         = "INVALID_CUSTOMER"
	CodeOrderNotFound           = "ORDER_NOT_FOUND"
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
	CodeStoreError              = "STORE_ERROR"
	CodeUnknown                 = "UNKNOWN_ERROR"
)

// UnavailableItem описывает одну недоступную позицию из батча.
type UnavailableItem struct {
	ProductID string
	// CurrentStock и RequestedQuantity заполняются, когда известны; ноль означает «неизвестно».
	// Для ReasonProductNotFound CurrentStock всегда ноль и не показывается покупателю.
	CurrentStock      int32
	RequestedQuantity int32
	Reason            UnavailableReason
	Code              string
}

// AvailabilityResult: ответ проверки наличия по всему батчу.
type AvailabilityResult struct {
	Available        bool
	UnavailableItems []UnavailableItem
}

// DeductionItemResult фиксирует списание одной позиции для аудита.
type DeductionItemResult struct {
	ProductID        string
	PreviousStock    int32
	NewStock         int32
	QuantityDeducted int32
}

// DeductionResult: итог пакетного списания.
// При Success=false Items может содержать уже применённые списания.
type DeductionResult struct {
	Success bool
	Items   []DeductionItemResult
	Error   string
	Code    string
}

// InvalidRequest строит запись о запросе, который нельзя проверить по остатку.
func InvalidRequest(req ItemRequest) UnavailableItem {
	if req.ProductID == "" {
		return UnavailableItem{RequestedQuantity: req.Quantity, Reason: ReasonProductNotFound, Code: CodeProductNotFound}
	}
	return UnavailableItem{
		ProductID:         req.ProductID,
		RequestedQuantity: req.Quantity,
		Reason:            ReasonInvalidQuantity,
		Code:              CodeInvalidQuantity,
	}
}

// UnavailableFor строит запись о недоступной позиции по текущему остатку.
func UnavailableFor(req ItemRequest, stock int32, found bool) UnavailableItem {
	if !found {
		return UnavailableItem{
			ProductID:         req.ProductID,
			RequestedQuantity: req.Quantity,
			Reason:            ReasonProductNotFound,
			Code:              CodeProductNotFound,
		}
	}
	return UnavailableItem{
		ProductID:         req.ProductID,
		CurrentStock:      stock,
		RequestedQuantity: req.Quantity,
		Reason:            ReasonInsufficientStock,
		Code:              CodeInsufficientStock,
	}
}

// MergeRequests складывает количества одинаковых товаров, сохраняя порядок первого вхождения.
// Хранилища проверяют остаток по суммарному количеству, иначе две строки одного товара
// могли бы пройти проверку по отдельности.
func MergeRequests(items []ItemRequest) []ItemRequest {
	index := make(map[string]int, len(items))
	merged := make([]ItemRequest, 0, len(items))
	for _, item := range items {
		if pos, ok := index[item.ProductID]; ok {
			merged[pos].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}
