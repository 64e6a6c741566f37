package exchange

// Wire shapes of the brokerage REST API. Only the fields this system relies on
// are declared; presence of the required ones is checked at decode time.

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type account struct {
	UUID             string  `json:"uuid"`
	Currency         string  `json:"currency"`
	AvailableBalance *amount `json:"available_balance"`
	Hold             *amount `json:"hold"`
}

type accountsResponse struct {
	Accounts *[]account `json:"accounts"`
	HasNext  bool       `json:"has_next"`
	Cursor   string     `json:"cursor"`
}

// marketIOC carries exactly one of the two size fields
type marketIOC struct {
	QuoteSize string `json:"quote_size,omitempty"`
	BaseSize  string `json:"base_size,omitempty"`
}

type orderConfiguration struct {
	MarketMarketIOC marketIOC `json:"market_market_ioc"`
}

type createOrderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type orderSuccess struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	ClientOrderID string `json:"client_order_id"`
}

type orderFailure struct {
	Error                 string `json:"error"`
	Message               string `json:"message"`
	ErrorDetails          string `json:"error_details"`
	PreviewFailureReason  string `json:"preview_failure_reason"`
	NewOrderFailureReason string `json:"new_order_failure_reason"`
}

type createOrderResponse struct {
	Success         *bool         `json:"success"`
	FailureReason   string        `json:"failure_reason"`
	OrderID         string        `json:"order_id"`
	SuccessResponse *orderSuccess `json:"success_response"`
	ErrorResponse   *orderFailure `json:"error_response"`
}

// errorBody is the generic non-2xx payload
type errorBody struct {
	Error        string `json:"error"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
	ErrorDetails string `json:"error_details"`
}
